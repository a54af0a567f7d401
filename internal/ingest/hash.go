// Package ingest discovers candidate files on a source, deduplicates them by
// content digest, and promotes them into pipeline jobs.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HashReader streams r through sha256 and returns the hex digest. The
// caller owns closing r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
