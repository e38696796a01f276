package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// dlqPayload — формат, в котором consumer складывает необработанные
// сообщения в DLQ.
type dlqPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
	FailedAt      string `json:"failed_at"`
	RetryCount    int    `json:"retry_count"`
}

type replayMessage struct {
	topic      string
	key        string
	value      []byte
	retryCount int
	lastError  string
	failedAt   string
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	var producer *kafka.Producer
	if cfg.execute {
		producer, err = kafka.NewProducer(cfg.brokers)
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var processed, replayed, skipped int
	for _, partition := range partitions {
		if processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, client, consumer, producer, cfg, partition, cfg.limit-processed)
		if err != nil {
			return err
		}
		processed += stats.processed
		replayed += stats.replayed
		skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": processed,
		"replayed":  replayed,
		"skipped":   skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	client sarama.Client,
	consumer sarama.Consumer,
	producer *kafka.Producer,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()

		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}

		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			replay, ok := extractReplayMessage(msg, cfg.targetTopic)
			if !ok {
				stats.skipped++
				log.WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
				continue
			}

			if cfg.execute {
				if err := publishReplay(producer, replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
			} else {
				log.WithFields(log.Fields{
					"partition":    msg.Partition,
					"offset":       msg.Offset,
					"target_topic": replay.topic,
					"key":          replay.key,
				}).Info("dlq replay candidate")
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}

		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func extractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, bool) {
	var payload dlqPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.OriginalValue == "" {
		return replayMessage{}, false
	}

	topic := strings.TrimSpace(payload.OriginalTopic)
	if topic == "" {
		topic = defaultTopic
	}
	return replayMessage{
		topic:      topic,
		key:        payload.OriginalKey,
		value:      []byte(payload.OriginalValue),
		retryCount: payload.RetryCount,
		lastError:  payload.ErrorMessage,
		failedAt:   payload.FailedAt,
	}, true
}

// publishReplay возвращает сообщение в исходный topic байт в байт. Заголовки
// несут накопленный retry count и причину попадания в DLQ, чтобы consumer
// продолжил счёт попыток, а не начал с нуля.
func publishReplay(producer *kafka.Producer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(kafka.HeaderRetryCount), Value: []byte(strconv.Itoa(msg.retryCount + 1))},
		{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(msg.topic)},
	}
	if msg.lastError != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(kafka.HeaderErrorMessage), Value: []byte(msg.lastError)})
	}
	if msg.failedAt != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(kafka.HeaderFailedAt), Value: []byte(msg.failedAt)})
	}
	return producer.PublishRaw(msg.topic, msg.key, msg.value, headers)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
