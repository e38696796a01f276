package workflow

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// ShippingProcess — дочерний процесс отгрузки: подготовка посылки и передача
// перевозчику. Исход доставляется родителю через его почтовый ящик, сам
// процесс состояние заказа не меняет и своих сигналов не принимает.
type ShippingProcess struct {
	order  domain.Order
	deps   Deps
	parent chan<- signal
	logger *log.Entry
}

func newShippingProcess(deps Deps, order domain.Order, parent chan<- signal) *ShippingProcess {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "shipping-process")
	}
	return &ShippingProcess{
		order:  order,
		deps:   deps,
		parent: parent,
		logger: logger.WithFields(log.Fields{"order_id": order.ID, "process": "shipping"}),
	}
}

// Run прогоняет шаги отгрузки и сообщает исход родителю. Каждый шаг
// идемпотентен: перед побочным эффектом проверяется аудит-лог, поэтому
// возобновление после рестарта не повторяет уже сделанное.
func (p *ShippingProcess) Run(ctx context.Context) {
	if err := p.deps.Executor.Execute(ctx, opPackagePrepared, p.preparePackage); err != nil {
		p.report(ctx, opPackagePrepared, err)
		return
	}
	if err := p.deps.Executor.Execute(ctx, opCarrierDispatched, p.dispatchCarrier); err != nil {
		p.report(ctx, opCarrierDispatched, err)
		return
	}
	p.report(ctx, "", nil)
}

// preparePackage собирает посылку по позициям заказа.
func (p *ShippingProcess) preparePackage(ctx context.Context) error {
	done, err := hasEvent(ctx, p.deps.Events, p.order.ID, domain.EventPackagePrepared)
	if err != nil {
		return err
	}
	if done {
		p.logger.Info("package already prepared, skipping")
		return nil
	}

	if err := p.deps.Fulfillment.PreparePackage(ctx, p.order.ID); err != nil {
		return err
	}

	return p.appendEvent(ctx, domain.EventPackagePrepared, map[string]any{
		"items_count": len(p.order.Items),
	})
}

// dispatchCarrier передаёт посылку перевозчику по текущему адресу доставки.
func (p *ShippingProcess) dispatchCarrier(ctx context.Context) error {
	done, err := hasEvent(ctx, p.deps.Events, p.order.ID, domain.EventCarrierDispatched)
	if err != nil {
		return err
	}
	if done {
		p.logger.Info("carrier already dispatched, skipping")
		return nil
	}

	// Адрес перечитывается из хранилища: сигнал update_address мог пройти
	// после того, как родитель сделал снапшот.
	current, err := p.deps.Orders.Get(ctx, p.order.ID)
	if err == nil {
		p.order.Address = current.Address
	}

	if err := p.deps.Fulfillment.DispatchCarrier(ctx, p.order.ID, p.order.Address); err != nil {
		return err
	}

	return p.appendEvent(ctx, domain.EventCarrierDispatched, map[string]any{
		"address": addressPayload(p.order.Address),
	})
}

func (p *ShippingProcess) appendEvent(ctx context.Context, eventType domain.EventType, payload map[string]any) error {
	event := domain.NewEvent(p.order.ID, eventType, payload)
	if err := p.deps.Events.Append(ctx, event); err != nil {
		return err
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordAuditEvent()
	}
	return nil
}

// report доставляет исход родителю. Отмена ctx — единственная причина
// не доставить: родитель в этом случае тоже выгружается.
func (p *ShippingProcess) report(ctx context.Context, operation string, cause error) {
	sig := signal{kind: signalShippingSucceeded}
	if cause != nil {
		if ctx.Err() != nil {
			// Остановка процесса, а не провал отгрузки.
			return
		}
		sig = signal{kind: signalShippingFailed, operation: operation, cause: cause}
	}
	select {
	case p.parent <- sig:
	case <-ctx.Done():
	}
}
