// Package filesystem defines the read-only capability set shared by the local
// disk backend and the SFTP-backed remote backend. Callers hold a Provider for
// the duration of one operation only; the connection manager may swap the
// active backend between calls.
package filesystem

import "io"

// Kind identifies a concrete backend.
type Kind string

const (
	// KindLocal is the on-disk backend.
	KindLocal Kind = "local"
	// KindSSH is the SFTP-over-SSH backend.
	KindSSH Kind = "ssh"
)

// StatResult is the normalised subset of file metadata exposed by every backend.
type StatResult struct {
	Size         int64 `json:"size"`
	ModifiedAtMs int64 `json:"modifiedAtMs"`
	// CreatedAtMs equals ModifiedAtMs on backends without birth time.
	CreatedAtMs int64 `json:"createdAtMs"`
	IsFile      bool  `json:"isFile"`
	IsDirectory bool  `json:"isDirectory"`
}

// DirEntry describes one directory member. Optional fields are only set when
// the backend's listing call returns them without an extra round-trip.
type DirEntry struct {
	Name         string `json:"name"`
	IsFile       bool   `json:"isFile"`
	IsDirectory  bool   `json:"isDirectory"`
	Size         *int64 `json:"size,omitempty"`
	ModifiedAtMs *int64 `json:"modifiedAtMs,omitempty"`
	CreatedAtMs  *int64 `json:"createdAtMs,omitempty"`
}

// ReadStreamOptions controls OpenReadStream.
type ReadStreamOptions struct {
	// Start is the byte offset to resume reading from.
	Start int64
	// Encoding transforms the raw bytes; empty means utf8 passthrough.
	Encoding Encoding
}

// Provider is the filesystem capability interface.
type Provider interface {
	// Kind reports which backend serves the calls.
	Kind() Kind

	// Exists never fails; any underlying error reads as "does not exist".
	Exists(path string) bool

	// ReadFile returns the whole file decoded with the given encoding.
	ReadFile(path string, encoding Encoding) (string, error)

	// Stat fails with ErrNotFound when the path is absent.
	Stat(path string) (StatResult, error)

	// ReadDir lists a directory. Entry order is backend-defined.
	ReadDir(path string) ([]DirEntry, error)

	// OpenReadStream never fails synchronously: open failures are delivered
	// by the first Read on the returned stream.
	OpenReadStream(path string, opts ReadStreamOptions) io.ReadCloser

	// Dispose releases backend resources. It is idempotent and never panics.
	Dispose()
}

type errStream struct {
	err error
}

func (s errStream) Read([]byte) (int, error) { return 0, s.err }
func (s errStream) Close() error             { return nil }

// ErrorStream returns a stream whose first Read yields err.
func ErrorStream(err error) io.ReadCloser {
	return errStream{err: err}
}

func int64Ptr(v int64) *int64 {
	return &v
}
