package engine

import (
	"log/slog"

	"github.com/mlevan/refetch/internal/data"
)

// LogObserver writes lifecycle events to the application log. Progress
// updates are skipped; they arrive far too often to log.
type LogObserver struct {
	NoopObserver
	l *slog.Logger
}

func NewLogObserver(l *slog.Logger) *LogObserver {
	if l == nil {
		l = slog.Default()
	}
	return &LogObserver{l: l}
}

func (o *LogObserver) OnStarted(r *data.Record, _ int) {
	o.l.Info("download started", "id", r.ID, "name", r.Name, "source", r.Source)
}

func (o *LogObserver) OnPaused(r *data.Record, _ int) {
	o.l.Info("download paused", "id", r.ID, "name", r.Name)
}

func (o *LogObserver) OnResumed(r *data.Record, _ int) {
	o.l.Info("download resumed", "id", r.ID, "name", r.Name)
}

func (o *LogObserver) OnFailed(err error, r *data.Record, _ int) {
	o.l.Error("download failed", "id", r.ID, "name", r.Name, "err", err)
}

func (o *LogObserver) OnFinished(r *data.Record, _ int) {
	o.l.Info("download finished", "id", r.ID, "name", r.Name)
}

func (o *LogObserver) OnCanceled(r *data.Record, _ int) {
	o.l.Info("download canceled", "id", r.ID, "name", r.Name)
}

func (o *LogObserver) OnDestinationMissing(r *data.Record, _ int, location string) {
	o.l.Warn("destination directory missing", "id", r.ID, "location", location)
}

func (o *LogObserver) OnInterruptedTasksPopulated(rs data.Records) {
	o.l.Info("interrupted tasks populated", "count", len(rs))
}
