package transport

// NotificationType discriminates the events a transport emits.
type NotificationType string

const (
	// NotifyProgress carries byte counters for a running task.
	NotifyProgress NotificationType = "Progress"
	// NotifyCompletedToFile signals the task finished writing its bytes
	// to a temporary location; the file still needs to be moved into
	// place.
	NotifyCompletedToFile NotificationType = "CompletedToFile"
	// NotifyDone is the terminal event for a task. Err nil means clean
	// success; ErrCancelled means an explicit cancel; ErrInterrupted
	// means the task died with the process. ResumeData may carry an
	// opaque blob usable to continue the partial transfer.
	NotifyDone NotificationType = "Done"
	// NotifyDrained signals that every queued event from a previous
	// session has been delivered. Emitted at most once per stream.
	NotifyDrained NotificationType = "Drained"
)

// Notification is one event on the transport stream.
type Notification struct {
	Type NotificationType
	GID  string
	// Tag is set on Done notifications so an interrupted task can be
	// reconstructed even when no record holds its gid anymore.
	Tag string

	// Progress fields.
	Delta     int64
	Completed int64
	Total     int64

	// CompletedToFile fields.
	TempPath string

	// Done fields.
	Err        error
	ResumeData []byte
}

// Reporter publishes transport notifications.
type Reporter interface {
	Report(Notification)
}

// ChanReporter writes notifications to a channel.
type ChanReporter struct {
	ch chan<- Notification
}

func NewChanReporter(ch chan<- Notification) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Report(n Notification) {
	if r == nil {
		return
	}
	r.ch <- n
}
