package workflow

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Pool ограничивает число одновременно исполняемых инстансов одного класса.
// Родительские заказы и дочерние процессы отгрузки сидят в разных пулах,
// чтобы всплеск отгрузок не вытеснял приём новых заказов.
type Pool struct {
	name   string
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *log.Entry
}

// NewPool создаёт пул на size слотов.
func NewPool(name string, size int, logger *log.Entry) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = log.New().WithField("component", "worker-pool")
	}
	return &Pool{
		name:   name,
		slots:  make(chan struct{}, size),
		logger: logger.WithField("pool", name),
	}
}

// Submit занимает слот и запускает задачу в отдельной горутине. Блокируется,
// пока слот не освободится либо ctx не будет отменён.
func (p *Pool) Submit(ctx context.Context, task string, fn func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
			if r := recover(); r != nil {
				p.logger.WithFields(log.Fields{"task": task, "panic": r}).Error("task panicked")
			}
		}()
		fn()
	}()
	return nil
}

// Wait блокируется до завершения всех запущенных задач.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("pool drained")
}
