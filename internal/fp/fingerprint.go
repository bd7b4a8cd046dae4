package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/mlevan/refetch/internal/data"
)

// NormalizeSource trims surrounding whitespace. Further normalization
// rules (e.g. URL normalization) can be added later as needed.
func NormalizeSource(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeTargetPath trims whitespace and cleans the path. An empty path
// stays empty so "default directory" keeps a stable fingerprint.
func NormalizeTargetPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized
// source and target path. The display name is deliberately excluded:
// two transfers writing the same source to the same destination collide
// no matter what they are called. The engine uses the fingerprint to
// enforce at most one live transfer per identity.
func Fingerprint(id data.Identity) string {
	h := sha256.New()
	// NUL separators cannot occur in either field.
	h.Write([]byte(NormalizeSource(id.Source)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeTargetPath(id.TargetPath)))
	return hex.EncodeToString(h.Sum(nil))
}
