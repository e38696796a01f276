package app

import (
	"os"
	"strconv"
	"time"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	// PostgresDSN пустой означает in-memory хранилище.
	PostgresDSN string
	// KafkaBrokers пустой означает работу без Kafka.
	KafkaBrokers string

	ApprovalTimeout  time.Duration
	OrderPoolSize    int
	ShippingPoolSize int
}

// DefaultConfig возвращает базовые адреса и настройки.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:         ":8080",
		MetricsAddr:      ":9090",
		ApprovalTimeout:  5 * time.Minute,
		OrderPoolSize:    64,
		ShippingPoolSize: 32,
	}
}

// ReadConfig формирует конфигурацию, позволяя переопределить настройки
// через переменные окружения.
func ReadConfig() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("ORDERFLOW_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("ORDERFLOW_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("ORDERFLOW_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := os.Getenv("ORDERFLOW_APPROVAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ApprovalTimeout = d
		}
	}
	if v := os.Getenv("ORDERFLOW_ORDER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OrderPoolSize = n
		}
	}
	if v := os.Getenv("ORDERFLOW_SHIPPING_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ShippingPoolSize = n
		}
	}
	return cfg
}
