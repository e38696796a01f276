package app

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initEventTapConsumer запускает consumer group, зеркалирующий события
// заказов в лог сервиса. Сообщения, которые не удаётся разобрать, после
// исчерпания retry уходят в DLQ и позже возвращаются утилитой dlq-reprocess.
func initEventTapConsumer(ctx context.Context, brokers string, dlqProducer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if brokers == "" {
		return nil, nil
	}

	tapLogger := logger.WithField("component", "event-tap")
	handler := func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseOrderEvent(message)
		if err != nil {
			return err
		}
		tapLogger.WithFields(log.Fields{
			"order_id": event.OrderID,
			"event":    event.EventType,
			"state":    event.State,
		}).Info("order event observed")
		return nil
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		strings.Split(brokers, ","),
		"orderflow-event-tap",
		[]string{kafka.TopicOrderEvents},
		handler,
		dlqProducer,
		3,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, continuing without event tap")
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
