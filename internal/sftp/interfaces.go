package sftp

import (
	"io"
	"os"
)

// ReadableFile provides seekable read access to remote files.
type ReadableFile interface {
	io.ReadCloser
	io.Seeker
}

// Client exposes the read-only subset of SFTP operations consumed by the
// remote filesystem backend. Implementations wrap one live data-transfer
// channel; Close terminates that channel but never the parent SSH connection.
type Client interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (ReadableFile, error)
	Close() error
}
