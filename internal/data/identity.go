package data

import (
	"errors"
	"strings"
)

// tagSep joins identity fields inside a task tag. The ASCII unit
// separator cannot appear in a URL, a file name, or a cleaned path.
const tagSep = "\x1f"

// ErrMalformedTag is returned when a task tag does not carry all three
// identity fields. A transport task whose tag was never set, or was
// truncated, surfaces as this error so the caller can log and drop it
// instead of crashing reconciliation.
var ErrMalformedTag = errors.New("malformed identity tag")

// Identity names one logical transfer: what to call it, where the bytes
// come from, and where they should land. Immutable once created. An empty
// TargetPath means the engine's default download directory.
type Identity struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	TargetPath string `json:"targetPath"`
}

// Tag serializes the identity into the opaque per-task tag the transport
// layer persists, so the logical transfer survives a process restart even
// when only the transport remembers the task.
func (id Identity) Tag() string {
	return id.Name + tagSep + id.Source + tagSep + id.TargetPath
}

// ParseTag reconstructs an Identity from a task tag. The split is
// positional: name, source, target path.
func ParseTag(tag string) (Identity, error) {
	parts := strings.SplitN(tag, tagSep, 3)
	if len(parts) < 3 {
		return Identity{}, ErrMalformedTag
	}
	return Identity{Name: parts[0], Source: parts[1], TargetPath: parts[2]}, nil
}
