// Package stream pushes engine lifecycle events to WebSocket clients.
// The broadcaster is an engine observer; every event is fanned out as
// one JSON message per connected client.
package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mlevan/refetch/internal/data"
	"github.com/mlevan/refetch/internal/engine"
	"github.com/mlevan/refetch/internal/units"
)

// Event is the wire form of one lifecycle event.
type Event struct {
	Type     string       `json:"type"`
	Index    int          `json:"index,omitempty"`
	Error    string       `json:"error,omitempty"`
	Location string       `json:"location,omitempty"`
	// Speed is the display form of the record's transfer rate, e.g.
	// "1.5 MB/s". Present on progress events only.
	Speed   string       `json:"speed,omitempty"`
	Record  *data.Record `json:"record,omitempty"`
	Records data.Records `json:"records,omitempty"`
}

// Broadcaster implements engine.Observer and http.Handler. Slow clients
// have events dropped rather than stalling the engine.
type Broadcaster struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

var _ engine.Observer = (*Broadcaster)(nil)

func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, subs: make(map[chan Event]struct{})}
}

func (b *Broadcaster) subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *Broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Client is not keeping up; drop the event for it.
		}
	}
}

// ServeHTTP upgrades to WebSocket and streams events until the client
// disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn("websocket accept", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) OnStarted(r *data.Record, i int) {
	b.publish(Event{Type: "started", Index: i, Record: r})
}

func (b *Broadcaster) OnProgress(r *data.Record, i int) {
	v, u := units.Scale(int64(r.Speed))
	b.publish(Event{
		Type:   "progress",
		Index:  i,
		Speed:  fmt.Sprintf("%.1f %s/s", v, u),
		Record: r,
	})
}

func (b *Broadcaster) OnPaused(r *data.Record, i int) {
	b.publish(Event{Type: "paused", Index: i, Record: r})
}

func (b *Broadcaster) OnResumed(r *data.Record, i int) {
	b.publish(Event{Type: "resumed", Index: i, Record: r})
}

func (b *Broadcaster) OnFailed(err error, r *data.Record, i int) {
	b.publish(Event{Type: "failed", Index: i, Error: err.Error(), Record: r})
}

func (b *Broadcaster) OnFinished(r *data.Record, i int) {
	b.publish(Event{Type: "finished", Index: i, Record: r})
}

func (b *Broadcaster) OnCanceled(r *data.Record, i int) {
	b.publish(Event{Type: "canceled", Index: i, Record: r})
}

func (b *Broadcaster) OnDestinationMissing(r *data.Record, i int, location string) {
	b.publish(Event{Type: "destination_missing", Index: i, Location: location, Record: r})
}

func (b *Broadcaster) OnInterruptedTasksPopulated(rs data.Records) {
	b.publish(Event{Type: "interrupted_tasks_populated", Records: rs})
}
