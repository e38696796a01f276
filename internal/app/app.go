package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/service/httpapi"
	"github.com/vladislavdragonenkov/orderflow/internal/version"
	"github.com/vladislavdragonenkov/orderflow/internal/workflow"
)

// Run собирает зависимости, возобновляет активные заказы и обслуживает
// HTTP API до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	if kafkaProducer != nil {
		tap, err := initEventTapConsumer(ctx, cfg.KafkaBrokers, kafkaProducer, logger)
		if err == nil && tap != nil {
			defer func() {
				if err := tap.Stop(); err != nil {
					logger.WithError(err).Warn("failed to stop event tap consumer")
				}
			}()
		}
	}

	executor := workflow.NewExecutor(workflow.DefaultRetryPolicy(), deps.Metrics, logger.WithField("layer", "executor"))
	coordinator := workflow.NewCoordinator(workflow.Deps{
		Orders:          deps.Orders,
		Payments:        deps.Payments,
		Events:          deps.Events,
		PaymentGW:       deps.PaymentGW,
		Fulfillment:     deps.Fulfillment,
		Executor:        executor,
		Producer:        kafkaProducer,
		Metrics:         deps.Metrics,
		Logger:          logger.WithField("layer", "workflow"),
		ApprovalTimeout: cfg.ApprovalTimeout,
	}, workflow.CoordinatorConfig{
		OrderPoolSize:    cfg.OrderPoolSize,
		ShippingPoolSize: cfg.ShippingPoolSize,
		ApprovalTimeout:  cfg.ApprovalTimeout,
	})

	// Заказы, не дошедшие до терминального состояния при прошлой остановке,
	// продолжают с зафиксированного шага.
	if resumed, err := coordinator.Restore(ctx); err != nil {
		logger.WithError(err).Warn("failed to restore active orders")
	} else if resumed > 0 {
		logger.WithField("count", resumed).Info("active orders restored")
	}

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", deps.StorageCheck()))

	metricsSrv := startMetricsServer(cfg.MetricsAddr, logger, healthHandler)
	apiSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewServer(coordinator, logger.WithField("layer", "http")),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		shutdownHTTP(apiSrv, logger)
		coordinator.Shutdown()
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		coordinator.Shutdown()
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown failed")
	}
}
