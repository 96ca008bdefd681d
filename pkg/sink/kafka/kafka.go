// Package kafka publishes harvest records to a Kafka topic. The record FQN
// is the message key so every change to an entity lands on one partition.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/logger"
	"github.com/ajitpratap0/harvester/pkg/sink"
)

// Encodings.
const (
	EncodingJSON = "json"
	EncodingAvro = "avro"
)

// AvroSchema is the envelope every record is wrapped in under the avro
// encoding. The payload carries the JSON form of the record.
const AvroSchema = `{
  "type": "record",
  "name": "HarvestRecord",
  "namespace": "harvester",
  "fields": [
    {"name": "kind", "type": "string"},
    {"name": "fqn", "type": "string"},
    {"name": "schema_fqn", "type": "string"},
    {"name": "service_name", "type": "string"},
    {"name": "service_type", "type": "string"},
    {"name": "emitted_at", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "payload", "type": "string"}
  ]
}`

// Publisher sends records through a sarama SyncProducer.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	encoding string
	codec    *goavro.Codec
	log      *zap.Logger
}

// New connects a producer to cfg.Brokers.
func New(cfg config.KafkaConfig, log *zap.Logger) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create kafka producer").
			WithDetail("brokers", cfg.Brokers)
	}
	p, err := NewWithProducer(producer, cfg, log)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	return p, nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(producer sarama.SyncProducer, cfg config.KafkaConfig, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = logger.Get()
	}
	if cfg.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sink.kafka.topic is required")
	}
	p := &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		encoding: cfg.Encoding,
		log:      log.With(zap.String("component", "publisher"), zap.String("topic", cfg.Topic)),
	}
	switch cfg.Encoding {
	case "", EncodingJSON:
		p.encoding = EncodingJSON
	case EncodingAvro:
		codec, err := goavro.NewCodec(AvroSchema)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to compile avro schema")
		}
		p.codec = codec
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported kafka encoding %q", cfg.Encoding)
	}
	return p, nil
}

func saramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.ClientID = "harvester"
	return config
}

// Publish implements sink.Publisher.
func (p *Publisher) Publish(ctx context.Context, r record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := p.encode(r)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(r.FQN),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(r.Kind)},
			{Key: []byte("service"), Value: []byte(r.Service.Name)},
			{Key: []byte("content-type"), Value: []byte(p.contentType())},
		},
		Timestamp: r.EmittedAt,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to send record").WithDetail("fqn", r.FQN)
	}
	p.log.Debug("record published",
		zap.String("fqn", r.FQN),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *Publisher) encode(r record.Record) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode record").WithDetail("fqn", r.FQN)
	}
	if p.codec == nil {
		return payload, nil
	}
	out, err := p.codec.BinaryFromNative(nil, map[string]any{
		"kind":         string(r.Kind),
		"fqn":          r.FQN,
		"schema_fqn":   r.SchemaFQN(),
		"service_name": r.Service.Name,
		"service_type": r.Service.Type,
		"emitted_at":   r.EmittedAt,
		"payload":      string(payload),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode avro record").WithDetail("fqn", r.FQN)
	}
	return out, nil
}

func (p *Publisher) contentType() string {
	if p.codec != nil {
		return "avro/binary"
	}
	return "application/json"
}

// Close implements sink.Publisher.
func (p *Publisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to close kafka producer")
	}
	return nil
}

var _ sink.Publisher = (*Publisher)(nil)
