package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/testutil"
)

func deletion() record.Record {
	em := record.NewEmitter(record.ServiceRef{Name: "warehouse", Type: "trino"})
	return em.Deletion("main.public", "main.public.legacy")
}

func TestPublisher_JSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "main.public.legacy" {
			return fmt.Errorf("unexpected key %q", key)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var r record.Record
		if err := json.Unmarshal(value, &r); err != nil {
			return err
		}
		if r.Kind != record.KindDeletion || r.Deletion.SchemaFQN != "main.public" {
			return fmt.Errorf("unexpected record %+v", r)
		}
		return nil
	})

	p, err := NewWithProducer(producer, config.KafkaConfig{Topic: "harvest"}, testutil.TestLogger(t))
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), deletion()))
	require.NoError(t, p.Close())
}

func TestPublisher_Avro(t *testing.T) {
	codec, err := goavro.NewCodec(AvroSchema)
	require.NoError(t, err)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		native, _, err := codec.NativeFromBinary(value)
		if err != nil {
			return err
		}
		m := native.(map[string]any)
		if m["fqn"] != "main.public.legacy" || m["schema_fqn"] != "main.public" || m["kind"] != "deletion" {
			return fmt.Errorf("unexpected envelope %v", m)
		}
		if _, ok := m["emitted_at"].(time.Time); !ok {
			return fmt.Errorf("emitted_at is %T", m["emitted_at"])
		}
		return nil
	})

	p, err := NewWithProducer(producer, config.KafkaConfig{Topic: "harvest", Encoding: EncodingAvro}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), deletion()))
	require.NoError(t, p.Close())
}

func TestPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p, err := NewWithProducer(producer, config.KafkaConfig{Topic: "harvest"}, nil)
	require.NoError(t, err)
	err = p.Publish(context.Background(), deletion())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSink))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestNewWithProducer_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.KafkaConfig
	}{
		{"missing topic", config.KafkaConfig{}},
		{"unknown encoding", config.KafkaConfig{Topic: "t", Encoding: "protobuf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := mocks.NewSyncProducer(t, nil)
			defer producer.Close()
			_, err := NewWithProducer(producer, tt.cfg, nil)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p, err := NewWithProducer(producer, config.KafkaConfig{Topic: "harvest"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, deletion()), context.Canceled)
	require.NoError(t, p.Close())
}
