package data

import (
	"encoding/json"
	"errors"
	"io"
	"time"
)

// RecordStatus is the lifecycle state of a tracked transfer.
type RecordStatus string

const (
	StatusPreparing   RecordStatus = "Preparing"
	StatusDownloading RecordStatus = "Downloading"
	StatusPaused      RecordStatus = "Paused"
	StatusFailed      RecordStatus = "Failed"
	StatusFinished    RecordStatus = "Finished"
	StatusCanceled    RecordStatus = "Canceled"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrBadStatus     = errors.New("invalid status")
	ErrInvalidSource = errors.New("source is required")
	// ErrConflict is returned when a transfer with the same identity
	// fingerprint is already live.
	ErrConflict = errors.New("duplicate transfer")
)

// Remaining is the estimated time left for a transfer, decomposed by
// integer division. It is only meaningful while Speed > 0.
type Remaining struct {
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// Record is the stateful entity representing one tracked transfer. The
// engine is its single writer; everyone else works on clones handed out
// by the record store.
type Record struct {
	ID  string `json:"id"`
	GID string `json:"-"`
	Identity
	Status          RecordStatus `json:"status"`
	Progress        float64      `json:"progress"`
	TotalBytes      int64        `json:"totalBytes"`
	DownloadedBytes int64        `json:"downloadedBytes"`
	Speed           float64      `json:"speed"`
	Remaining       *Remaining   `json:"remaining,omitempty"`
	// StartedAt marks the start of the current attempt. It is reset on
	// pause and retry but not on resume or plain progress updates.
	StartedAt time.Time `json:"startedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type Records []*Record

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Remaining != nil {
		rem := *r.Remaining
		c.Remaining = &rem
	}
	return &c
}

func (rs Records) Clone() Records {
	out := make(Records, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

func (rs *Records) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(rs) }

func (r *Record) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(r) }

func (r *Record) FromJSON(rd io.Reader) error { return json.NewDecoder(rd).Decode(r) }

// Terminal reports whether the record has reached a state from which the
// engine removes it from the tracked collection.
func (s RecordStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}
