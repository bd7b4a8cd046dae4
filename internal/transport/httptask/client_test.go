package httptask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mlevan/refetch/internal/transport"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	c, err := New(Options{TmpDir: dir, JournalPath: filepath.Join(dir, "journal.json")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// next pulls the next non-progress notification, failing the test on
// timeout.
func next(t *testing.T, ch <-chan transport.Notification) transport.Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-ch:
			if n.Type == transport.NotifyProgress {
				continue
			}
			return n
		case <-deadline:
			t.Fatalf("timed out waiting for notification")
		}
	}
}

func TestStartCompletes(t *testing.T) {
	body := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := newTestClient(t)
	gid, err := c.Start(context.Background(), transport.Request{URL: srv.URL, Tag: "t1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	n := next(t, c.Notifications())
	if n.Type != transport.NotifyCompletedToFile || n.GID != gid {
		t.Fatalf("expected CompletedToFile for %s, got %+v", gid, n)
	}
	got, err := os.ReadFile(n.TempPath)
	if err != nil {
		t.Fatalf("read temp: %v", err)
	}
	if string(got) != body {
		t.Fatalf("temp file content mismatch: %d bytes", len(got))
	}

	n = next(t, c.Notifications())
	if n.Type != transport.NotifyDone || n.Err != nil {
		t.Fatalf("expected clean Done, got %+v", n)
	}
	if _, ok := c.journal.get(gid); ok {
		t.Fatalf("journal entry should be removed after completion")
	}
}

func TestStartEmitsProgressWithTotal(t *testing.T) {
	body := strings.Repeat("y", 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := newTestClient(t)
	if _, err := c.Start(context.Background(), transport.Request{URL: srv.URL, Tag: "t"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	var sawProgress bool
	for !sawProgress {
		select {
		case n := <-c.Notifications():
			if n.Type == transport.NotifyProgress {
				sawProgress = true
				if n.Total != int64(len(body)) {
					t.Fatalf("progress total = %d, want %d", n.Total, len(body))
				}
				if n.Completed <= 0 || n.Completed > n.Total {
					t.Fatalf("bad completed count %d", n.Completed)
				}
			}
		case <-deadline:
			t.Fatalf("no progress notification")
		}
	}
}

func TestCancelRemovesPartialFile(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("z", 1024)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t)
	gid, err := c.Start(context.Background(), transport.Request{URL: srv.URL, Tag: "t"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for bytes to flow before cancelling.
	deadline := time.After(5 * time.Second)
	var temp string
	for temp == "" {
		select {
		case n := <-c.Notifications():
			if n.Type == transport.NotifyProgress {
				e, _ := c.journal.get(gid)
				temp = e.TempPath
			}
		case <-deadline:
			t.Fatalf("no progress before cancel")
		}
	}

	if err := c.Cancel(context.Background(), gid); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyDone || !errors.Is(n.Err, transport.ErrCancelled) {
		t.Fatalf("expected cancelled Done, got %+v", n)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("partial file should be removed on cancel")
	}
	if _, ok := c.journal.get(gid); ok {
		t.Fatalf("journal entry should be removed on cancel")
	}
}

func TestCancelAfterSuspendEmitsDone(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("z", 1024)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t)
	gid, err := c.Start(context.Background(), transport.Request{URL: srv.URL, Tag: "t"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		ok := false
		select {
		case n := <-c.Notifications():
			ok = n.Type == transport.NotifyProgress
		case <-deadline:
			t.Fatalf("no progress before suspend")
		}
		if ok {
			break
		}
	}
	if err := c.Suspend(context.Background(), gid); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	// Wait for the transfer goroutine to wind down so the cancel lands
	// on a task with nothing running.
	tk, _ := c.task(gid)
	for start := time.Now(); ; {
		tk.mu.Lock()
		live := tk.live
		tk.mu.Unlock()
		if !live {
			break
		}
		if time.Since(start) > 5*time.Second {
			t.Fatalf("transfer goroutine did not stop after suspend")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Cancel(context.Background(), gid); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyDone || !errors.Is(n.Err, transport.ErrCancelled) {
		t.Fatalf("expected cancelled Done, got %+v", n)
	}
	if n.Tag != "t" {
		t.Fatalf("cancelled Done must carry the tag, got %+v", n)
	}
	if _, err := os.Stat(tk.tempPath); !os.IsNotExist(err) {
		t.Fatalf("partial file should be removed on cancel")
	}
	if _, ok := c.journal.get(gid); ok {
		t.Fatalf("journal entry should be removed on cancel")
	}
}

func TestCancelSurvivorEntryEmitsDone(t *testing.T) {
	c := newTestClient(t)
	gid := "survivor-gid"
	temp := filepath.Join(c.tmpDir, gid+".part")
	if err := os.WriteFile(temp, []byte("partial"), 0o644); err != nil {
		t.Fatalf("seed temp: %v", err)
	}
	if err := c.journal.put(entry{GID: gid, Tag: "t-old", URL: "https://x/f", TempPath: temp, State: "suspended"}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	if err := c.Cancel(context.Background(), gid); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyDone || !errors.Is(n.Err, transport.ErrCancelled) || n.Tag != "t-old" {
		t.Fatalf("expected cancelled Done with tag, got %+v", n)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("partial file should be removed on cancel")
	}
	if _, ok := c.journal.get(gid); ok {
		t.Fatalf("journal entry should be removed on cancel")
	}
}

func TestPausedStartMovesNoBytes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	c := newTestClient(t)
	gid, err := c.Start(context.Background(), transport.Request{URL: srv.URL, Tag: "t", Paused: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	e, ok := c.journal.get(gid)
	if !ok || e.State != "suspended" {
		t.Fatalf("paused task should be journaled as suspended, got %+v", e)
	}
	select {
	case n := <-c.Notifications():
		t.Fatalf("paused task emitted %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("paused task contacted the server %d times", hits)
	}

	if err := c.Resume(context.Background(), gid); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyCompletedToFile {
		t.Fatalf("expected CompletedToFile, got %+v", n)
	}
	n = next(t, c.Notifications())
	if n.Type != transport.NotifyDone || n.Err != nil {
		t.Fatalf("expected clean Done, got %+v", n)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly one request after resume, got %d", got)
	}
}

func TestCancelPausedTaskEmitsDone(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	c := newTestClient(t)
	gid, err := c.Start(context.Background(), transport.Request{URL: srv.URL, Tag: "t", Paused: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Cancel(context.Background(), gid); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyDone || !errors.Is(n.Err, transport.ErrCancelled) {
		t.Fatalf("expected cancelled Done, got %+v", n)
	}
	if _, ok := c.journal.get(gid); ok {
		t.Fatalf("journal entry should be removed on cancel")
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("cancelled armed task contacted the server %d times", hits)
	}
}

func TestResumeSendsRangeHeader(t *testing.T) {
	full := strings.Repeat("a", 1000) + strings.Repeat("b", 1000)
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange != "bytes=1000-" {
			t.Errorf("unexpected Range header %q", gotRange)
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 1000-1999/%d", len(full)))
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, full[1000:])
	}))
	defer srv.Close()

	c := newTestClient(t)
	// Seed a suspended task with the first half already on disk.
	gid := "resume-gid"
	temp := filepath.Join(c.tmpDir, gid+".part")
	if err := os.WriteFile(temp, []byte(full[:1000]), 0o644); err != nil {
		t.Fatalf("seed temp: %v", err)
	}
	if err := c.journal.put(entry{GID: gid, Tag: "t", URL: srv.URL, TempPath: temp, State: "suspended", Completed: 1000}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	if err := c.Resume(context.Background(), gid); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyCompletedToFile {
		t.Fatalf("expected CompletedToFile, got %+v", n)
	}
	got, _ := os.ReadFile(n.TempPath)
	if string(got) != full {
		t.Fatalf("reassembled file wrong: %d bytes", len(got))
	}
}

func TestStartFromResumeDataAdoptsPartialFile(t *testing.T) {
	full := strings.Repeat("p", 500) + strings.Repeat("q", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=500-" {
			t.Errorf("unexpected Range header %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 500-999/%d", len(full)))
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, full[500:])
	}))
	defer srv.Close()

	c := newTestClient(t)
	partial := filepath.Join(t.TempDir(), "old.part")
	if err := os.WriteFile(partial, []byte(full[:500]), 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}
	blob, _ := json.Marshal(map[string]string{"localPath": partial})

	if _, err := c.StartFromResumeData(context.Background(), blob, transport.Request{URL: srv.URL, Tag: "t"}); err != nil {
		t.Fatalf("StartFromResumeData: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyCompletedToFile {
		t.Fatalf("expected CompletedToFile, got %+v", n)
	}
	got, _ := os.ReadFile(n.TempPath)
	if string(got) != full {
		t.Fatalf("reassembled file wrong: %d bytes", len(got))
	}
}

func TestFailureCarriesResumeData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t)
	gid, err := c.Start(context.Background(), transport.Request{URL: srv.URL, Tag: "t"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	n := next(t, c.Notifications())
	if n.Type != transport.NotifyDone || n.Err == nil {
		t.Fatalf("expected failed Done, got %+v", n)
	}
	if n.GID != gid || len(n.ResumeData) == 0 {
		t.Fatalf("failed Done must carry gid and resume data: %+v", n)
	}
	var f struct {
		LocalPath string `json:"localPath"`
	}
	if err := json.Unmarshal(n.ResumeData, &f); err != nil || f.LocalPath == "" {
		t.Fatalf("resume blob not a property map with localPath: %s", n.ResumeData)
	}
}

func TestInterruptedReplayAndDrain(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.json")
	temp := filepath.Join(dir, "g-int.part")
	if err := os.WriteFile(temp, []byte("partial"), 0o644); err != nil {
		t.Fatalf("seed temp: %v", err)
	}
	j, err := openJournal(journalPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.put(entry{GID: "g-int", Tag: "tag-int", URL: "https://x/f", TempPath: temp, State: "running"}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	c, err := New(Options{TmpDir: dir, JournalPath: journalPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	n := next(t, c.Notifications())
	if n.Type != transport.NotifyDone || !errors.Is(n.Err, transport.ErrInterrupted) {
		t.Fatalf("expected interrupted Done, got %+v", n)
	}
	if n.Tag != "tag-int" || len(n.ResumeData) == 0 {
		t.Fatalf("interrupted Done must carry tag and resume data: %+v", n)
	}

	n = next(t, c.Notifications())
	if n.Type != transport.NotifyDrained {
		t.Fatalf("expected Drained after replay, got %+v", n)
	}
}

func TestExistingTasksReportsSuspended(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.json")
	j, err := openJournal(journalPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_ = j.put(entry{GID: "g-s", Tag: "tag-s", URL: "https://x/f", TempPath: filepath.Join(dir, "g-s.part"), State: "suspended"})
	_ = j.put(entry{GID: "g-o", Tag: "tag-o", URL: "https://x/g", TempPath: filepath.Join(dir, "g-o.part"), State: "other"})

	c, err := New(Options{TmpDir: dir, JournalPath: journalPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	infos, err := c.ExistingTasks(context.Background())
	if err != nil {
		t.Fatalf("ExistingTasks: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(infos))
	}
	states := map[string]transport.TaskState{}
	for _, ti := range infos {
		states[ti.GID] = ti.State
	}
	if states["g-s"] != transport.StateSuspended || states["g-o"] != transport.StateOther {
		t.Fatalf("unexpected states: %v", states)
	}
}

func TestContentRangeTotal(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"bytes 0-999/2000", 2000},
		{"bytes 500-999/1000", 1000},
		{"bytes 0-999/*", 0},
		{"", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := contentRangeTotal(tt.in); got != tt.want {
			t.Fatalf("contentRangeTotal(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
