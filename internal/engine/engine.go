// Package engine orchestrates the download pool: it owns the record
// store, drives the transport layer, reconciles surviving tasks on
// startup, and fans lifecycle events out to observers.
package engine

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlevan/refetch/internal/data"
	"github.com/mlevan/refetch/internal/fp"
	"github.com/mlevan/refetch/internal/metrics"
	"github.com/mlevan/refetch/internal/repo"
	"github.com/mlevan/refetch/internal/transport"
)

// Engine is the orchestrator. All state transitions run under one mutex
// per instance, so transport notifications and caller operations never
// interleave partial updates. Observer callbacks fire outside the lock;
// an observer may call back into the engine.
type Engine struct {
	log     *slog.Logger
	store   repo.RecordStore
	tr      transport.Transport
	obs     Observer
	fs      fsOps
	baseDir string

	onDrained   func()
	drainedOnce sync.Once

	now func() time.Time

	mu sync.Mutex
}

// Options tunes engine construction. Zero values fall back to defaults.
type Options struct {
	// Observer receives lifecycle events; defaults to NoopObserver.
	Observer Observer
	// BaseDir is where finished files land when a record has no target
	// path of its own.
	BaseDir string
	// OnDrained runs once, when the transport signals it has delivered
	// every event queued from a previous session.
	OnDrained func()
}

func New(log *slog.Logger, store repo.RecordStore, tr transport.Transport, opts Options) *Engine {
	if log == nil {
		log = slog.Default()
	}
	obs := opts.Observer
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Engine{
		log:       log,
		store:     store,
		tr:        tr,
		obs:       obs,
		fs:        osFS{},
		baseDir:   opts.BaseDir,
		onDrained: opts.OnDrained,
		now:       time.Now,
	}
}

// List returns a snapshot of the tracked collection.
func (e *Engine) List(ctx context.Context) (data.Records, error) {
	return e.store.List(ctx)
}

// Get returns a snapshot of one record.
func (e *Engine) Get(ctx context.Context, id string) (*data.Record, error) {
	return e.store.Get(ctx, id)
}

// Add starts a new transfer and emits Started. The record is immediately
// Downloading; progress arrives through notifications.
func (e *Engine) Add(ctx context.Context, name, source, targetPath string) (*data.Record, error) {
	if strings.TrimSpace(source) == "" {
		return nil, data.ErrInvalidSource
	}
	if name == "" {
		name = deriveName(source)
	}
	id := data.Identity{Name: name, Source: source, TargetPath: targetPath}

	e.mu.Lock()
	if err := e.checkConflictLocked(ctx, id); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	gid, err := e.tr.Start(ctx, transport.Request{URL: id.Source, Dir: id.TargetPath, Tag: id.Tag()})
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	now := e.now()
	saved, err := e.store.Add(ctx, &data.Record{
		ID:        uuid.NewString(),
		GID:       gid,
		Identity:  id,
		Status:    data.StatusDownloading,
		StartedAt: now,
		CreatedAt: now,
	})
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	idx, _ := e.store.Index(ctx, saved.ID)
	e.updateActiveLocked(ctx)
	e.mu.Unlock()

	metrics.EngineEvents.WithLabelValues("started").Inc()
	e.obs.OnStarted(saved.Clone(), idx)
	return saved, nil
}

// Pause suspends a running transfer. Pausing an already-paused record is
// a no-op: no event, no state change. The attempt clock resets so a
// later resume computes speed over a clean baseline.
func (e *Engine) Pause(ctx context.Context, id string) error {
	e.mu.Lock()
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if rec.Status == data.StatusPaused {
		e.mu.Unlock()
		return nil
	}
	if err := e.tr.Suspend(ctx, rec.GID); err != nil {
		e.mu.Unlock()
		return err
	}
	updated, err := e.store.Update(ctx, id, func(r *data.Record) error {
		r.Status = data.StatusPaused
		r.StartedAt = e.now()
		r.Speed = 0
		r.Remaining = nil
		return nil
	})
	if err != nil {
		e.mu.Unlock()
		return err
	}
	idx, _ := e.store.Index(ctx, id)
	e.updateActiveLocked(ctx)
	e.mu.Unlock()

	metrics.EngineEvents.WithLabelValues("paused").Inc()
	e.obs.OnPaused(updated, idx)
	return nil
}

// Resume continues a suspended transfer. Resuming an already-downloading
// record is a no-op. The attempt clock is deliberately NOT reset here:
// speed and ETA after a resume are computed from the attempt's original
// start, which understates speed for long-paused transfers. Callers who
// want a clean clock should pause first (pause resets it).
func (e *Engine) Resume(ctx context.Context, id string) error {
	e.mu.Lock()
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if rec.Status == data.StatusDownloading {
		e.mu.Unlock()
		return nil
	}
	if err := e.tr.Resume(ctx, rec.GID); err != nil {
		e.mu.Unlock()
		return err
	}
	updated, err := e.store.Update(ctx, id, func(r *data.Record) error {
		r.Status = data.StatusDownloading
		return nil
	})
	if err != nil {
		e.mu.Unlock()
		return err
	}
	idx, _ := e.store.Index(ctx, id)
	e.updateActiveLocked(ctx)
	e.mu.Unlock()

	metrics.EngineEvents.WithLabelValues("resumed").Inc()
	e.obs.OnResumed(updated, idx)
	return nil
}

// Retry re-arms a failed transfer. Retrying an already-downloading
// record is a no-op. Retry resets the attempt clock but emits no event;
// observers learn about the new attempt from its progress updates.
func (e *Engine) Retry(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == data.StatusDownloading {
		return nil
	}
	if err := e.tr.Resume(ctx, rec.GID); err != nil {
		return err
	}
	if _, err := e.store.Update(ctx, id, func(r *data.Record) error {
		r.Status = data.StatusDownloading
		r.StartedAt = e.now()
		return nil
	}); err != nil {
		return err
	}
	e.updateActiveLocked(ctx)
	return nil
}

// Cancel is fire-and-forget: it commands the transport and returns. The
// record is removed, and Canceled emitted, when the transport's terminal
// notification arrives.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.tr.Cancel(ctx, rec.GID)
}

// ReconcileStartup rebuilds records for transport tasks that survived a
// previous process lifetime and emits InterruptedTasksPopulated with the
// resulting collection. Tasks whose identity tag cannot be parsed are
// logged and dropped; they never abort reconciliation. The enumeration
// may block; bound it through ctx.
func (e *Engine) ReconcileStartup(ctx context.Context) error {
	infos, err := e.tr.ExistingTasks(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	now := e.now()
	for _, info := range infos {
		identity, err := data.ParseTag(info.Tag)
		if err != nil {
			e.log.Error("drop task with unparseable tag", "gid", info.GID, "err", err)
			continue
		}
		var status data.RecordStatus
		switch info.State {
		case transport.StateRunning:
			status = data.StatusDownloading
		case transport.StateSuspended:
			status = data.StatusPaused
		default:
			status = data.StatusFailed
		}
		rec := &data.Record{
			ID:        uuid.NewString(),
			GID:       info.GID,
			Identity:  identity,
			Status:    status,
			CreatedAt: now,
		}
		if status == data.StatusDownloading {
			rec.StartedAt = now
		}
		if _, err := e.store.Add(ctx, rec); err != nil {
			e.log.Error("add reconciled record", "gid", info.GID, "err", err)
		}
	}
	list, err := e.store.List(ctx)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.updateActiveLocked(ctx)
	e.mu.Unlock()

	metrics.EngineEvents.WithLabelValues("interrupted_tasks_populated").Inc()
	e.obs.OnInterruptedTasksPopulated(list)
	return nil
}

func (e *Engine) checkConflictLocked(ctx context.Context, id data.Identity) error {
	list, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	want := fp.Fingerprint(id)
	for _, r := range list {
		if fp.Fingerprint(r.Identity) == want {
			return data.ErrConflict
		}
	}
	return nil
}

func (e *Engine) updateActiveLocked(ctx context.Context) {
	list, err := e.store.List(ctx)
	if err != nil {
		return
	}
	active := 0
	for _, r := range list {
		if r.Status == data.StatusDownloading {
			active++
		}
	}
	metrics.ActiveDownloads.Set(float64(active))
}

// deriveName extracts a display name from the source URL.
func deriveName(source string) string {
	if u, err := url.Parse(source); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "download"
}
