// Package httptask implements the transport contract over plain HTTP GET
// with Range-based resumption. Each task streams into a temp file from
// its own goroutine; a JSON journal makes tasks enumerable across process
// restarts.
package httptask

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlevan/refetch/internal/transport"
)

// Client implements transport.Transport.
type Client struct {
	http    *http.Client
	tmpDir  string
	journal *journal
	notes   chan transport.Notification
	rep     transport.Reporter
	log     *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	replay  []transport.Notification
	drained bool
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	TmpDir      string
	JournalPath string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// New builds a Client and loads the journal. Entries that were running
// when the previous process died are queued as interrupted Done
// notifications, replayed when Run starts.
func New(opts Options) (*Client, error) {
	if opts.TmpDir == "" {
		opts.TmpDir = filepath.Join(os.TempDir(), "refetch")
	}
	if opts.JournalPath == "" {
		opts.JournalPath = filepath.Join(opts.TmpDir, "journal.json")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.TmpDir, 0o755); err != nil {
		return nil, err
	}
	j, err := openJournal(opts.JournalPath)
	if err != nil {
		return nil, err
	}
	c := &Client{
		// No overall request timeout: a large download legitimately
		// outlives any fixed deadline. The timeout bounds dial+headers.
		http: &http.Client{Transport: &http.Transport{
			ResponseHeaderTimeout: opts.Timeout,
		}},
		tmpDir:  opts.TmpDir,
		journal: j,
		notes:   make(chan transport.Notification, 64),
		log:     opts.Logger,
		tasks:   make(map[string]*task),
	}
	c.rep = transport.NewChanReporter(c.notes)
	for _, e := range j.list() {
		if e.State != "running" {
			continue
		}
		// The task died with the previous process. Surface it as an
		// interrupted Done carrying resume state for the partial file.
		blob := resumeBlob(e)
		c.replay = append(c.replay, transport.Notification{
			Type:       transport.NotifyDone,
			GID:        e.GID,
			Tag:        e.Tag,
			Err:        transport.ErrInterrupted,
			ResumeData: blob,
		})
		_ = j.remove(e.GID)
	}
	return c, nil
}

// NewFromEnv builds a Client from environment variables:
// REFETCH_TMP_DIR, REFETCH_JOURNAL, REFETCH_HTTP_TIMEOUT_MS.
func NewFromEnv(log *slog.Logger) (*Client, error) {
	opts := Options{
		TmpDir:      os.Getenv("REFETCH_TMP_DIR"),
		JournalPath: os.Getenv("REFETCH_JOURNAL"),
		Logger:      log,
	}
	if v := os.Getenv("REFETCH_HTTP_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			opts.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return New(opts)
}

var _ transport.Transport = (*Client)(nil)

func (c *Client) Notifications() <-chan transport.Notification { return c.notes }

// Run replays notifications queued from the journal, signals the stream
// is drained, then keeps the channel open until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.mu.Lock()
	replay := c.replay
	c.replay = nil
	already := c.drained
	c.drained = true
	c.mu.Unlock()
	for _, n := range replay {
		select {
		case c.notes <- n:
		case <-ctx.Done():
			return
		}
	}
	if !already {
		select {
		case c.notes <- transport.Notification{Type: transport.NotifyDrained}:
		case <-ctx.Done():
			return
		}
	}
	<-ctx.Done()
	c.mu.Lock()
	for _, t := range c.tasks {
		t.stopIfRunning(stopSuspend)
	}
	c.mu.Unlock()
}

// Start issues a new task for req and returns its gid.
func (c *Client) Start(ctx context.Context, req transport.Request) (string, error) {
	gid := uuid.NewString()
	temp := filepath.Join(c.tmpDir, gid+".part")
	return gid, c.launch(ctx, gid, req, temp, 0)
}

// StartFromResumeData continues a partial transfer described by blob. If
// the blob cannot be parsed the task starts from byte zero.
func (c *Client) StartFromResumeData(ctx context.Context, blob []byte, req transport.Request) (string, error) {
	gid := uuid.NewString()
	temp := filepath.Join(c.tmpDir, gid+".part")
	var offset int64
	var f struct {
		LocalPath string `json:"localPath"`
	}
	if err := json.Unmarshal(blob, &f); err == nil && f.LocalPath != "" {
		if info, err := os.Stat(f.LocalPath); err == nil && info.Mode().IsRegular() {
			// Adopt the existing partial file under the new gid.
			if err := os.Rename(f.LocalPath, temp); err == nil {
				offset = info.Size()
			}
		}
	}
	return gid, c.launch(ctx, gid, req, temp, offset)
}

func (c *Client) launch(ctx context.Context, gid string, req transport.Request, temp string, offset int64) error {
	state := "running"
	if req.Paused {
		state = "suspended"
	}
	e := entry{GID: gid, Tag: req.Tag, URL: req.URL, Dir: req.Dir, TempPath: temp, State: state, Completed: offset}
	if err := c.journal.put(e); err != nil {
		return err
	}
	t := newTask(c, gid, req, temp)
	c.mu.Lock()
	c.tasks[gid] = t
	c.mu.Unlock()
	if req.Paused {
		// Armed only; Resume starts the goroutine.
		return nil
	}
	t.start(offset)
	return nil
}

// Suspend stops the task's goroutine but keeps its partial file and
// journal entry, ready for Resume.
func (c *Client) Suspend(ctx context.Context, gid string) error {
	t, ok := c.task(gid)
	if !ok {
		return transport.ErrNotFound
	}
	t.stopIfRunning(stopSuspend)
	return c.journal.setState(gid, "suspended")
}

// Resume restarts a suspended task from the size of its partial file.
func (c *Client) Resume(ctx context.Context, gid string) error {
	t, ok := c.task(gid)
	if !ok {
		// Survivor of a previous process: rebuild from the journal.
		e, found := c.journal.get(gid)
		if !found {
			return transport.ErrNotFound
		}
		t = newTask(c, gid, transport.Request{URL: e.URL, Dir: e.Dir, Tag: e.Tag}, e.TempPath)
		c.mu.Lock()
		c.tasks[gid] = t
		c.mu.Unlock()
	}
	var offset int64
	if info, err := os.Stat(t.tempPath); err == nil {
		offset = info.Size()
	}
	if err := c.journal.setState(gid, "running"); err != nil {
		return err
	}
	t.start(offset)
	return nil
}

// Cancel stops the task, removes its partial file, and emits a Done
// notification classified as cancelled. A suspended or armed task has no
// goroutine to observe the stop, so it is finalized here; same for a
// journal entry surviving from a previous process.
func (c *Client) Cancel(ctx context.Context, gid string) error {
	t, ok := c.task(gid)
	if !ok {
		e, found := c.journal.get(gid)
		if !found {
			return transport.ErrNotFound
		}
		_ = os.Remove(e.TempPath)
		_ = c.journal.remove(gid)
		c.report(transport.Notification{Type: transport.NotifyDone, GID: gid, Tag: e.Tag, Err: transport.ErrCancelled})
		return nil
	}
	if t.stopIfRunning(stopCancel) {
		return nil
	}
	_ = os.Remove(t.tempPath)
	_ = c.journal.remove(gid)
	c.drop(gid)
	c.report(transport.Notification{Type: transport.NotifyDone, GID: gid, Tag: t.req.Tag, Err: transport.ErrCancelled})
	return nil
}

// ExistingTasks reports journal entries left by a previous process.
// Running entries were already converted into interrupted notifications
// at load time and are not repeated here.
func (c *Client) ExistingTasks(ctx context.Context) ([]transport.TaskInfo, error) {
	var out []transport.TaskInfo
	for _, e := range c.journal.list() {
		c.mu.Lock()
		_, live := c.tasks[e.GID]
		c.mu.Unlock()
		if live {
			continue
		}
		state := transport.StateOther
		if e.State == "suspended" {
			state = transport.StateSuspended
		}
		out = append(out, transport.TaskInfo{GID: e.GID, Tag: e.Tag, State: state})
	}
	return out, nil
}

func (c *Client) task(gid string) (*task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[gid]
	return t, ok
}

func (c *Client) drop(gid string) {
	c.mu.Lock()
	delete(c.tasks, gid)
	c.mu.Unlock()
}

func (c *Client) report(n transport.Notification) {
	c.rep.Report(n)
}

// resumeBlob builds the opaque resume-state property map for a journal
// entry. The validator on the engine side only relies on localPath and
// tempFileName; url rides along for debugging.
func resumeBlob(e entry) []byte {
	b, _ := json.Marshal(map[string]string{
		"localPath":    e.TempPath,
		"tempFileName": filepath.Base(e.TempPath),
		"url":          e.URL,
	})
	return b
}
