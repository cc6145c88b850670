// Package history receives terminal dispatch outcomes. From the dispatcher's
// point of view it is write-only.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/zapdispatch/internal/model"
)

type Sink interface {
	Record(ctx context.Context, res *model.DispatchResult) error
}

// Appender is the persistence collaborator's history write.
type Appender interface {
	AppendHistoryRecord(ctx context.Context, rec model.HistoryRecord) error
}

// StoreSink appends one history row per terminal outcome.
type StoreSink struct {
	Appender Appender
}

func (s StoreSink) Record(ctx context.Context, res *model.DispatchResult) error {
	for _, rec := range model.HistoryFromResult(res) {
		if err := s.Appender.AppendHistoryRecord(ctx, rec); err != nil {
			return fmt.Errorf("append history for item %s: %w", rec.ItemID, err)
		}
	}
	return nil
}

// LogSink writes a one-line summary per job.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Record(ctx context.Context, res *model.DispatchResult) error {
	ev := s.Log.Info()
	if res.Failed > 0 {
		ev = s.Log.Warn()
	}
	ev.Str("job", res.JobID).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("dispatch result recorded")
	return nil
}

// Multi records to every sink, even when some fail.
type Multi []Sink

func (m Multi) Record(ctx context.Context, res *model.DispatchResult) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
