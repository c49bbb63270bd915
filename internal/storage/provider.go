// Package storage provides confined, atomic file operations on a realm's node files.
package storage

import "time"

// Provider is the interface for realm file operations. Paths are
// slash-separated and relative to the realm root.
type Provider interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the content of path, creating it if needed.
	Write(path string, content []byte) error
	// Create writes a new file and fails with ErrAlreadyExists if path exists.
	Create(path string, content []byte) error
	// Touch sets the modification time of path.
	Touch(path string, t time.Time) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath, refusing to overwrite.
	Move(oldPath, newPath string) error
	// Abs returns the absolute filesystem path of path, rejecting paths
	// that leave the root.
	Abs(path string) (string, error)
}

var _ Provider = (*FS)(nil)
