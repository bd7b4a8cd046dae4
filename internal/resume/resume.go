// Package resume inspects the opaque resume-state blobs the transport
// layer hands back on failure and decides whether a partial transfer can
// be continued instead of restarted from byte zero.
package resume

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// The transport encodes resume state as a flat JSON property map. Only
// the fields that locate the partial data file matter here; everything
// else is the transport's business.
type blobFields struct {
	LocalPath    string `json:"localPath"`
	TempFileName string `json:"tempFileName"`
}

// Usable reports whether the blob references partial data that still
// exists on disk. Empty or unparseable blobs are never usable;
// resumability defaults to "no" rather than surfacing a parse error.
func Usable(blob []byte) bool {
	if len(blob) == 0 {
		return false
	}
	var f blobFields
	if err := json.Unmarshal(blob, &f); err != nil {
		return false
	}
	path := f.LocalPath
	if path == "" {
		if f.TempFileName == "" {
			return false
		}
		path = filepath.Join(os.TempDir(), f.TempFileName)
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
