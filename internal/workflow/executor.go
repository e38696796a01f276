package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// RetryPolicy задаёт форму retry-контракта активности: ограниченное число
// попыток, ограниченный таймаут каждой попытки и растущая, но ограниченная
// задержка между ними. Конкретные значения — настройка, не поведение.
type RetryPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy возвращает политику по умолчанию: сбой зависимости —
// это флап с фиксированной вероятностью, а не длительный простой, поэтому
// задержка растёт, но быстро упирается в потолок.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    10,
		InitialDelay:   1 * time.Second,
		MaxDelay:       5 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 30 * time.Second,
	}
}

// RetryExhaustedError сообщает, что активность исчерпала лимит попыток.
// Для машины состояний это терминальный отказ шага.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation %q exhausted %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// IsRetryExhausted проверяет, является ли ошибка исчерпанием retry.
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}

// Executor выполняет именованную активность против ненадёжной зависимости.
// Временные сбои полностью поглощаются внутри: наружу выходит либо успех,
// либо неповторяемая бизнес-ошибка, либо RetryExhaustedError.
// Защита от дублей — обязанность самой активности: она обязана проверить
// долговечное состояние по своему ключу идемпотентности до побочного эффекта.
type Executor struct {
	policy  RetryPolicy
	logger  *log.Entry
	metrics *metrics.WorkflowMetrics
}

// NewExecutor создаёт executor с заданной политикой. Метрики опциональны.
func NewExecutor(policy RetryPolicy, m *metrics.WorkflowMetrics, logger *log.Entry) *Executor {
	if logger == nil {
		logger = log.New().WithField("component", "activity-executor")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultRetryPolicy().InitialDelay
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = DefaultRetryPolicy().AttemptTimeout
	}
	return &Executor{policy: policy, logger: logger, metrics: m}
}

// Execute запускает активность с retry по политике.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := e.policy.InitialDelay
	start := time.Now()

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if attempt > 1 {
				e.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("activity succeeded after retry")
			}
			if e.metrics != nil {
				e.metrics.RecordStepDuration(operation, time.Since(start))
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			e.logger.WithError(err).WithField("operation", operation).Warn("activity failed with non-retryable error")
			return err
		}
		if ctx.Err() != nil {
			// Внешняя отмена: не считаем попытку исчерпанной, инстанс
			// возобновит шаг после рестарта.
			return ctx.Err()
		}

		if e.metrics != nil {
			e.metrics.RecordActivityRetry(operation)
		}

		if attempt < e.policy.MaxAttempts {
			e.logger.WithError(err).WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
			}).Warn("activity attempt failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			// Задержка растёт, но ограничена потолком.
			delay = time.Duration(float64(delay) * e.policy.BackoffFactor)
			if delay > e.policy.MaxDelay {
				delay = e.policy.MaxDelay
			}
		}
	}

	e.logger.WithError(lastErr).WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": e.policy.MaxAttempts,
	}).Error("activity failed after all retry attempts")

	return &RetryExhaustedError{
		Operation: operation,
		Attempts:  e.policy.MaxAttempts,
		Last:      lastErr,
	}
}

// shouldRetry определяет, стоит ли повторять активность при данной ошибке.
// Бизнес-ошибки повторять бессмысленно; неизвестные ошибки считаем временными.
func shouldRetry(err error) bool {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemNameRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrAddressLocked),
		errors.Is(err, domain.ErrTransitionNotAllowed),
		errors.Is(err, domain.ErrOrderStateConflict):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
