package v1

import (
	"encoding/json"
	"net/http"
	"strings"
)

// decodeJSONStrict validates an optional Content-Type header, caps the
// body size, and decodes JSON into dst while disallowing unknown
// fields. It returns ErrContentType when the header is present but not
// acceptable.
func decodeJSONStrict(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, contentTypePrefix string) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, contentTypePrefix) {
		return ErrContentType
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
