package httptask

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mlevan/refetch/internal/transport"
)

type stopReason int

const (
	stopNone stopReason = iota
	stopSuspend
	stopCancel
)

// task owns one transfer goroutine. Stopping is done by cancelling the
// goroutine's context; the reason decides whether the partial file and
// journal entry survive.
type task struct {
	c        *Client
	gid      string
	req      transport.Request
	tempPath string

	mu     sync.Mutex
	cancel context.CancelFunc
	reason stopReason
	live   bool
}

func newTask(c *Client, gid string, req transport.Request, tempPath string) *task {
	return &task{c: c, gid: gid, req: req, tempPath: tempPath}
}

func (t *task) start(offset int64) {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.reason = stopNone
	t.live = true
	t.mu.Unlock()
	go t.run(ctx, offset)
}

// stopIfRunning records the stop reason and cancels the transfer context.
// It reports whether a goroutine is live to observe the reason; when it
// returns false the caller must finalize the task itself.
func (t *task) stopIfRunning(r stopReason) bool {
	t.mu.Lock()
	t.reason = r
	cancel := t.cancel
	live := t.live
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return live
}

// finish marks the goroutine as gone and returns the stop reason it must
// act on. Any stop that lands after finish is the caller's to handle.
func (t *task) finish() stopReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = false
	return t.reason
}

func (t *task) run(ctx context.Context, offset int64) {
	err := t.fetch(ctx, offset)
	reason := t.finish()
	if err == nil {
		_ = t.c.journal.remove(t.gid)
		t.c.drop(t.gid)
		t.c.report(transport.Notification{Type: transport.NotifyCompletedToFile, GID: t.gid, Tag: t.req.Tag, TempPath: t.tempPath})
		t.c.report(transport.Notification{Type: transport.NotifyDone, GID: t.gid, Tag: t.req.Tag})
		return
	}

	switch reason {
	case stopSuspend:
		// Partial file and journal entry stay; Resume picks them up.
		return
	case stopCancel:
		_ = os.Remove(t.tempPath)
		_ = t.c.journal.remove(t.gid)
		t.c.drop(t.gid)
		t.c.report(transport.Notification{Type: transport.NotifyDone, GID: t.gid, Tag: t.req.Tag, Err: transport.ErrCancelled})
		return
	}

	// Genuine transfer failure: hand back resume state for the partial
	// file so the engine can decide resume-vs-restart.
	e, _ := t.c.journal.get(t.gid)
	if e.GID == "" {
		e = entry{GID: t.gid, Tag: t.req.Tag, URL: t.req.URL, TempPath: t.tempPath}
	}
	_ = t.c.journal.setState(t.gid, "other")
	t.c.drop(t.gid)
	t.c.report(transport.Notification{Type: transport.NotifyDone, GID: t.gid, Tag: t.req.Tag, Err: err, ResumeData: resumeBlob(e)})
}

func (t *task) fetch(ctx context.Context, offset int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.req.URL, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	resp, err := t.c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var total int64
	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		total = contentRangeTotal(resp.Header.Get("Content-Range"))
		if total == 0 && resp.ContentLength > 0 {
			total = offset + resp.ContentLength
		}
		flags |= os.O_APPEND
	case http.StatusOK:
		// Server ignored the range request; start over.
		offset = 0
		if resp.ContentLength > 0 {
			total = resp.ContentLength
		}
		flags |= os.O_TRUNC
	default:
		return fmt.Errorf("http %d fetching %s", resp.StatusCode, t.req.URL)
	}

	f, err := os.OpenFile(t.tempPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	completed := offset
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			completed += int64(n)
			t.c.report(transport.Notification{
				Type:      transport.NotifyProgress,
				GID:       t.gid,
				Tag:       t.req.Tag,
				Delta:     int64(n),
				Completed: completed,
				Total:     total,
			})
		}
		if rerr != nil {
			if rerr == io.EOF {
				_ = t.c.journal.setBytes(t.gid, completed, total)
				return nil
			}
			_ = t.c.journal.setBytes(t.gid, completed, total)
			return rerr
		}
	}
}

// contentRangeTotal parses the total out of "bytes a-b/total". Returns 0
// for absent or indeterminate ("*") totals.
func contentRangeTotal(v string) int64 {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 {
		return 0
	}
	n, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
