package httptask

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// entry is the durable view of one task. The journal is what lets
// ExistingTasks answer after a process restart, when the in-memory task
// table is gone.
type entry struct {
	GID       string `json:"gid"`
	Tag       string `json:"tag"`
	URL       string `json:"url"`
	Dir       string `json:"dir"`
	TempPath  string `json:"tempPath"`
	State     string `json:"state"` // running | suspended | other
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// journal persists task entries as a single JSON file, rewritten on every
// mutation. Task pools are small; simplicity wins over append-only logs.
type journal struct {
	mu      sync.Mutex
	path    string
	entries map[string]entry
}

func openJournal(path string) (*journal, error) {
	j := &journal{path: path, entries: make(map[string]entry)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, err
	}
	var list []entry
	if err := json.Unmarshal(b, &list); err != nil {
		// A corrupt journal must not block startup; tasks it described
		// are lost but new ones can proceed.
		return j, nil
	}
	for _, e := range list {
		j.entries[e.GID] = e
	}
	return j, nil
}

func (j *journal) put(e entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.GID] = e
	return j.flushLocked()
}

func (j *journal) setState(gid, state string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[gid]
	if !ok {
		return nil
	}
	e.State = state
	j.entries[gid] = e
	return j.flushLocked()
}

func (j *journal) setBytes(gid string, completed, total int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[gid]
	if !ok {
		return nil
	}
	e.Completed = completed
	e.Total = total
	j.entries[gid] = e
	return j.flushLocked()
}

func (j *journal) remove(gid string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, gid)
	return j.flushLocked()
}

func (j *journal) get(gid string) (entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[gid]
	return e, ok
}

func (j *journal) list() []entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].GID < out[b].GID })
	return out
}

func (j *journal) flushLocked() error {
	list := make([]entry, 0, len(j.entries))
	for _, e := range j.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].GID < list[b].GID })
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
