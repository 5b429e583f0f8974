// Package stats delivers published retention key/value stats to sinks.
package stats

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Sink receives one published stat at a time.
type Sink interface {
	Send(ctx context.Context, key string, value uint64) error
}

// Multi fans each stat out to every sink and joins their errors.
type Multi []Sink

// Send implements Sink.
func (m Multi) Send(ctx context.Context, key string, value uint64) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes stats to a logger at debug level.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs every stat.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "stats").Logger()}
}

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, key string, value uint64) error {
	s.logger.Debug().Str("key", key).Uint64("value", value).Msg("stat published")
	return nil
}
