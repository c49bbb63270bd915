package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the hex-encoded SHA-256 digest of the content length
// followed by the content.
func Fingerprint(data []byte) string {
	h := sha256.New()
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(data)))
	h.Write(size[:])
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
