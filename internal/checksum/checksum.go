// Package checksum computes content fingerprints used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint identifies one observed version of a note.
// ModTime is recorded for diagnostics only; equality is decided by Checksum.
type Fingerprint struct {
	Checksum string    `json:"checksum" yaml:"checksum"`
	ModTime  time.Time `json:"mod_time" yaml:"mod_time"`
}

// Of fingerprints data read from a file last modified at modTime.
func Of(data []byte, modTime time.Time) Fingerprint {
	return Fingerprint{Checksum: Sum(data), ModTime: modTime.UTC()}
}

// Matches reports whether f and other describe identical content.
// An empty checksum never matches, so entries imported without one are
// always re-ingested.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f.Checksum != "" && f.Checksum == other.Checksum
}
