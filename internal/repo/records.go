// Package repo holds the record store: the single shared mutable arena
// for download records. The engine performs every mutation through a
// store so no caller can edit a record aliased out of the collection.
package repo

import (
	"context"

	"github.com/mlevan/refetch/internal/data"
)

type RecordStore interface {
	RecordReader
	RecordWriter
}

type RecordReader interface {
	List(ctx context.Context) (data.Records, error)
	Get(ctx context.Context, id string) (*data.Record, error)
	// GetByGID finds the record owning a live transport handle. The
	// handle is the only correlation key available for notifications.
	GetByGID(ctx context.Context, gid string) (*data.Record, error)
	// Index reports the record's position in List order, for observer
	// callbacks that address records positionally.
	Index(ctx context.Context, id string) (int, error)
}

type RecordWriter interface {
	Add(ctx context.Context, r *data.Record) (*data.Record, error)
	Update(ctx context.Context, id string, mutate func(*data.Record) error) (*data.Record, error)
	Remove(ctx context.Context, id string) error
}
