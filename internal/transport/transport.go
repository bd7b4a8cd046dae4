// Package transport defines the contract between the download engine and
// whatever layer actually moves bytes. The engine only ever drives tasks
// through this interface and observes outcomes via the notification
// stream; it never touches sockets itself.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrCancelled classifies a Done notification caused by an explicit
	// cancel rather than a transfer failure.
	ErrCancelled = errors.New("task cancelled")
	// ErrInterrupted classifies a task that died because the process (or
	// the transport's worker) was torn down mid-flight, not because the
	// transfer itself failed.
	ErrInterrupted = errors.New("task interrupted")
	// ErrNotFound is returned for operations on an unknown task handle.
	ErrNotFound = errors.New("task not found")
)

// Request describes a new task. Tag is the opaque identity string the
// transport must persist with the task for its whole lifetime. Paused
// creates the task armed but not transferring; no bytes move until
// Resume is called on the returned handle.
type Request struct {
	URL    string
	Dir    string
	Tag    string
	Paused bool
}

// TaskState is the transport's own view of a task.
type TaskState string

const (
	StateRunning   TaskState = "running"
	StateSuspended TaskState = "suspended"
	StateOther     TaskState = "other"
)

// TaskInfo describes a task the transport still knows about, typically a
// survivor of a prior process lifetime.
type TaskInfo struct {
	GID   string
	Tag   string
	State TaskState
}

// Transport is the byte-moving collaborator. Start returns an opaque
// handle (gid); all later operations refer to it. Suspend, Resume and
// Cancel are fire-and-forget: their outcome arrives on the notification
// stream, not in the return value.
type Transport interface {
	Start(ctx context.Context, req Request) (gid string, err error)
	StartFromResumeData(ctx context.Context, blob []byte, req Request) (gid string, err error)
	Suspend(ctx context.Context, gid string) error
	Resume(ctx context.Context, gid string) error
	Cancel(ctx context.Context, gid string) error

	// ExistingTasks enumerates tasks that survived a previous process
	// lifetime. It may block while the transport rebuilds its view; the
	// caller bounds the wait through ctx.
	ExistingTasks(ctx context.Context) ([]TaskInfo, error)

	// Notifications returns the stream of task events. The channel is
	// closed when the transport shuts down.
	Notifications() <-chan Notification
}
