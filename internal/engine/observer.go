package engine

import "github.com/mlevan/refetch/internal/data"

// Observer receives lifecycle events from the engine. Records are handed
// out as clones together with their position in the tracked collection.
//
// Embed NoopObserver to implement only the callbacks you care about.
type Observer interface {
	OnStarted(r *data.Record, index int)
	OnProgress(r *data.Record, index int)
	OnPaused(r *data.Record, index int)
	OnResumed(r *data.Record, index int)
	OnFailed(err error, r *data.Record, index int)
	OnFinished(r *data.Record, index int)
	OnCanceled(r *data.Record, index int)
	// OnDestinationMissing fires when a finished transfer cannot be
	// placed because its destination directory does not exist. The
	// caller may create the directory and retry the transfer.
	OnDestinationMissing(r *data.Record, index int, location string)
	// OnInterruptedTasksPopulated delivers the full tracked collection
	// after startup reconciliation or after an interrupted task was
	// re-armed mid-session.
	OnInterruptedTasksPopulated(rs data.Records)
}

// NoopObserver implements Observer with empty methods.
type NoopObserver struct{}

var _ Observer = NoopObserver{}

func (NoopObserver) OnStarted(*data.Record, int)                    {}
func (NoopObserver) OnProgress(*data.Record, int)                   {}
func (NoopObserver) OnPaused(*data.Record, int)                     {}
func (NoopObserver) OnResumed(*data.Record, int)                    {}
func (NoopObserver) OnFailed(error, *data.Record, int)              {}
func (NoopObserver) OnFinished(*data.Record, int)                   {}
func (NoopObserver) OnCanceled(*data.Record, int)                   {}
func (NoopObserver) OnDestinationMissing(*data.Record, int, string) {}
func (NoopObserver) OnInterruptedTasksPopulated(data.Records)       {}

// Tee fans every event out to each observer in order.
type Tee []Observer

var _ Observer = Tee{}

func (t Tee) OnStarted(r *data.Record, i int) {
	for _, o := range t {
		o.OnStarted(r, i)
	}
}

func (t Tee) OnProgress(r *data.Record, i int) {
	for _, o := range t {
		o.OnProgress(r, i)
	}
}

func (t Tee) OnPaused(r *data.Record, i int) {
	for _, o := range t {
		o.OnPaused(r, i)
	}
}

func (t Tee) OnResumed(r *data.Record, i int) {
	for _, o := range t {
		o.OnResumed(r, i)
	}
}
func (t Tee) OnFailed(err error, r *data.Record, i int) {
	for _, o := range t {
		o.OnFailed(err, r, i)
	}
}
func (t Tee) OnFinished(r *data.Record, i int) {
	for _, o := range t {
		o.OnFinished(r, i)
	}
}

func (t Tee) OnCanceled(r *data.Record, i int) {
	for _, o := range t {
		o.OnCanceled(r, i)
	}
}
func (t Tee) OnDestinationMissing(r *data.Record, i int, loc string) {
	for _, o := range t {
		o.OnDestinationMissing(r, i, loc)
	}
}
func (t Tee) OnInterruptedTasksPopulated(rs data.Records) {
	for _, o := range t {
		o.OnInterruptedTasksPopulated(rs)
	}
}
