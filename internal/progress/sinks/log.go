package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-crawler/internal/progress"
)

var stageMessages = map[progress.Stage]string{
	progress.StageRunStart:      "run started",
	progress.StageRunDone:       "run finished",
	progress.StagePageStart:     "page started",
	progress.StagePageChallenge: "page challenged",
	progress.StagePageDone:      "page done",
	progress.StagePageError:     "page error",
}

// LogSink writes every progress event as a debug line, so a development
// logger shows the full page timeline without a metrics backend.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		msg, ok := stageMessages[evt.Stage]
		if !ok {
			msg = "progress event"
		}
		s.logger.Debug(msg, eventFields(evt)...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.Stringer("run_id", evt.RunUUID()),
		zap.String("stage", string(evt.Stage)),
		zap.Time("ts", evt.TS),
	}
	if evt.PageID != "" {
		fields = append(fields, zap.String("page", evt.PageID), zap.String("url", evt.URL))
	}
	if evt.Bytes > 0 {
		fields = append(fields, zap.Int64("bytes", evt.Bytes))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	switch {
	case evt.Note == "":
	case evt.Stage == progress.StagePageError:
		fields = append(fields, zap.String("error", evt.Note))
	case evt.Stage == progress.StagePageDone:
		fields = append(fields, zap.String("checksum", evt.Note))
	default:
		fields = append(fields, zap.String("note", evt.Note))
	}
	if evt.Stage == progress.StageRunDone {
		fields = append(fields, zap.Bool("fatal", evt.Failed))
	}
	return fields
}
