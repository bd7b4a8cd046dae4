package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mlevan/refetch/internal/data"
	"github.com/mlevan/refetch/internal/metrics"
	"github.com/mlevan/refetch/internal/resume"
	"github.com/mlevan/refetch/internal/transport"
)

// ErrUnknown stands in for a transport failure that arrived with no
// error attached. Defensive: observers are still notified instead of the
// failure being swallowed.
var ErrUnknown = errors.New("unknown transfer error")

// Run consumes the transport notification stream until ctx is cancelled
// or the stream closes. It is the engine's only notification consumer;
// start it exactly once.
func (e *Engine) Run(ctx context.Context) {
	// Tag this run with a stable operation_id for correlation.
	lg := e.log.With("operation_id", uuid.NewString())
	ch := e.tr.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			e.handle(ctx, lg, n)
		}
	}
}

func (e *Engine) handle(ctx context.Context, lg *slog.Logger, n transport.Notification) {
	switch n.Type {
	case transport.NotifyProgress:
		e.handleProgress(ctx, lg, n)
	case transport.NotifyCompletedToFile:
		e.handleCompletedToFile(ctx, lg, n)
	case transport.NotifyDone:
		e.handleDone(ctx, lg, n)
	case transport.NotifyDrained:
		if e.onDrained != nil {
			e.drainedOnce.Do(e.onDrained)
		}
	default:
		lg.Warn("unknown notification type", "type", n.Type, "gid", n.GID)
	}
}

func (e *Engine) handleProgress(ctx context.Context, lg *slog.Logger, n transport.Notification) {
	e.mu.Lock()
	rec, err := e.store.GetByGID(ctx, n.GID)
	if err != nil {
		e.mu.Unlock()
		lg.Debug("progress for unknown gid", "gid", n.GID)
		return
	}
	now := e.now()
	updated, err := e.store.Update(ctx, rec.ID, func(r *data.Record) error {
		r.DownloadedBytes = n.Completed
		if n.Total > 0 {
			// With an unknown total the progress fraction is undefined
			// and keeps its previous value.
			r.TotalBytes = n.Total
			r.Progress = float64(n.Completed) / float64(n.Total)
		}
		var elapsed time.Duration
		if !r.StartedAt.IsZero() {
			elapsed = now.Sub(r.StartedAt)
		}
		r.Speed = 0
		if elapsed > 0 {
			r.Speed = float64(n.Completed) / elapsed.Seconds()
		}
		r.Remaining = nil
		if r.Speed > 0 && r.TotalBytes > 0 && r.TotalBytes >= n.Completed {
			secs := int64(float64(r.TotalBytes-n.Completed) / r.Speed)
			r.Remaining = &data.Remaining{
				Hours:   secs / 3600,
				Minutes: (secs % 3600) / 60,
				Seconds: secs % 60,
			}
		}
		return nil
	})
	if err != nil {
		e.mu.Unlock()
		lg.Error("update progress", "id", rec.ID, "err", err)
		return
	}
	idx, _ := e.store.Index(ctx, rec.ID)
	e.mu.Unlock()

	metrics.BytesDownloaded.Add(float64(n.Delta))
	metrics.EngineEvents.WithLabelValues("progress").Inc()
	e.obs.OnProgress(updated, idx)
}

func (e *Engine) handleCompletedToFile(ctx context.Context, lg *slog.Logger, n transport.Notification) {
	e.mu.Lock()
	rec, err := e.store.GetByGID(ctx, n.GID)
	if err != nil {
		e.mu.Unlock()
		lg.Warn("completed file for unknown gid", "gid", n.GID)
		return
	}
	idx, _ := e.store.Index(ctx, rec.ID)
	e.mu.Unlock()

	destDir := rec.TargetPath
	if destDir == "" {
		destDir = e.baseDir
	}
	if !e.fs.DirExists(destDir) {
		// Recoverable: the caller may create the directory and retry.
		metrics.EngineEvents.WithLabelValues("destination_missing").Inc()
		e.obs.OnDestinationMissing(rec, idx, destDir)
		return
	}
	name := rec.Name
	if name == "" {
		name = filepath.Base(n.TempPath)
	}
	if err := e.fs.MoveFile(n.TempPath, filepath.Join(destDir, name)); err != nil {
		// The bytes are already fully received; only placement failed.
		lg.Error("move finished file", "id", rec.ID, "err", err)
		metrics.EngineEvents.WithLabelValues("failed").Inc()
		e.obs.OnFailed(err, rec, idx)
	}
}

func (e *Engine) handleDone(ctx context.Context, lg *slog.Logger, n transport.Notification) {
	if errors.Is(n.Err, transport.ErrInterrupted) {
		e.handleInterrupted(ctx, lg, n)
		return
	}

	e.mu.Lock()
	rec, err := e.store.GetByGID(ctx, n.GID)
	if err != nil {
		e.mu.Unlock()
		lg.Warn("terminal notification for unknown gid", "gid", n.GID)
		return
	}
	idx, _ := e.store.Index(ctx, rec.ID)

	switch {
	case n.Err == nil:
		if err := e.store.Remove(ctx, rec.ID); err != nil {
			lg.Error("remove finished record", "id", rec.ID, "err", err)
		}
		e.updateActiveLocked(ctx)
		e.mu.Unlock()
		metrics.EngineEvents.WithLabelValues("finished").Inc()
		e.obs.OnFinished(rec, idx)

	case errors.Is(n.Err, transport.ErrCancelled):
		if err := e.store.Remove(ctx, rec.ID); err != nil {
			lg.Error("remove cancelled record", "id", rec.ID, "err", err)
		}
		e.updateActiveLocked(ctx)
		e.mu.Unlock()
		metrics.EngineEvents.WithLabelValues("canceled").Inc()
		e.obs.OnCanceled(rec, idx)

	default:
		// Re-arm a handle before surfacing the failure, so a later
		// retry has something to resume.
		gid := e.rearm(ctx, lg, rec.Identity, n.ResumeData)
		updated, err := e.store.Update(ctx, rec.ID, func(r *data.Record) error {
			r.GID = gid
			r.Status = data.StatusFailed
			r.Speed = 0
			r.Remaining = nil
			return nil
		})
		if err != nil {
			e.mu.Unlock()
			lg.Error("update failed record", "id", rec.ID, "err", err)
			return
		}
		e.updateActiveLocked(ctx)
		e.mu.Unlock()
		cause := n.Err
		if cause == nil {
			cause = ErrUnknown
		}
		metrics.TransportFailures.WithLabelValues("error").Inc()
		metrics.EngineEvents.WithLabelValues("failed").Inc()
		e.obs.OnFailed(cause, updated, idx)
	}
}

// handleInterrupted deals with tasks that died while in flight because
// the process (or the transport's worker) went away. The task is
// retained, re-armed, and reported through InterruptedTasksPopulated
// rather than as a plain failure.
func (e *Engine) handleInterrupted(ctx context.Context, lg *slog.Logger, n transport.Notification) {
	identity, err := data.ParseTag(n.Tag)
	if err != nil {
		lg.Error("drop interrupted task with unparseable tag", "gid", n.GID, "err", err)
		return
	}

	e.mu.Lock()
	gid := e.rearm(ctx, lg, identity, n.ResumeData)
	rec := &data.Record{
		ID:        uuid.NewString(),
		GID:       gid,
		Identity:  identity,
		Status:    data.StatusFailed,
		CreatedAt: e.now(),
	}
	if _, err := e.store.Add(ctx, rec); err != nil {
		e.mu.Unlock()
		lg.Error("add interrupted record", "gid", n.GID, "err", err)
		return
	}
	list, err := e.store.List(ctx)
	if err != nil {
		e.mu.Unlock()
		lg.Error("list after interrupted add", "err", err)
		return
	}
	e.mu.Unlock()

	metrics.TransportFailures.WithLabelValues("interrupted").Inc()
	metrics.EngineEvents.WithLabelValues("interrupted_tasks_populated").Inc()
	e.obs.OnInterruptedTasksPopulated(list)
}

// rearm issues a replacement transport task for the identity: from
// resume data when the blob still points at partial bytes on disk,
// otherwise fresh from the original URL. The request is created paused,
// so the transport moves no bytes until the user retries or resumes.
// Returns the new gid, or "" when the transport refused both (the
// record then holds a Failed state with no live handle and a retry will
// surface the transport error).
func (e *Engine) rearm(ctx context.Context, lg *slog.Logger, identity data.Identity, blob []byte) string {
	req := transport.Request{URL: identity.Source, Dir: identity.TargetPath, Tag: identity.Tag(), Paused: true}
	if resume.Usable(blob) {
		gid, err := e.tr.StartFromResumeData(ctx, blob, req)
		if err == nil {
			return gid
		}
		lg.Warn("start from resume data", "err", err)
	}
	gid, err := e.tr.Start(ctx, req)
	if err != nil {
		lg.Error("re-arm transfer", "source", identity.Source, "err", err)
		return ""
	}
	return gid
}
