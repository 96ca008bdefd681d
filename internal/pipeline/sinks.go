package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/sink"
	"github.com/ajitpratap0/harvester/pkg/sink/catalogdb"
	"github.com/ajitpratap0/harvester/pkg/sink/file"
	"github.com/ajitpratap0/harvester/pkg/sink/kafka"
)

// NewSink builds the ledger sink named by cfg.Type.
func NewSink(ctx context.Context, cfg config.SinkConfig, service, runID string, log *zap.Logger) (sink.Sink, error) {
	switch cfg.Type {
	case "", "memory":
		return sink.NewMemory(), nil
	case "file":
		s, err := file.New(cfg, runID, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "catalogdb":
		s, err := catalogdb.Open(ctx, cfg, service, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown sink type %q", cfg.Type)
	}
}

// NewPublishers builds the Kafka publisher when brokers are configured.
func NewPublishers(cfg config.SinkConfig, log *zap.Logger) ([]sink.Publisher, error) {
	if !cfg.Kafka.Enabled() {
		return nil, nil
	}
	pub, err := kafka.New(cfg.Kafka, log)
	if err != nil {
		return nil, err
	}
	return []sink.Publisher{pub}, nil
}
