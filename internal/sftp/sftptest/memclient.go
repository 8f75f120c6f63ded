// Package sftptest provides an in-memory sftp.Client for tests.
package sftptest

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	pkgsftp "github.com/pkg/sftp"

	shellsftp "github.com/charlesng35/sessionlens/internal/sftp"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("sftptest: client closed")

type node struct {
	data  []byte
	dir   bool
	mode  uint32
	mtime uint32
}

// MemClient is a thread-safe in-memory implementation of sftp.Client.
// Failures can be injected per path.
type MemClient struct {
	mu       sync.Mutex
	nodes    map[string]*node
	failures map[string]error
	closed   bool
	closes   int
}

var _ shellsftp.Client = (*MemClient)(nil)

// NewMemClient returns a client holding only the root directory.
func NewMemClient() *MemClient {
	return &MemClient{
		nodes:    map[string]*node{"/": {dir: true, mode: 0o040755}},
		failures: map[string]error{},
	}
}

// AddFile creates a regular file and any missing parent directories.
func (c *MemClient) AddFile(p string, data []byte, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = path.Clean(p)
	c.mkdirAllLocked(path.Dir(p))
	c.nodes[p] = &node{data: data, mode: 0o100644, mtime: uint32(mtime.Unix())}
}

// AddDir creates a directory and any missing parents.
func (c *MemClient) AddDir(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mkdirAllLocked(path.Clean(p))
}

// AddNode creates an entry with an explicit raw mode, e.g. a symlink.
func (c *MemClient) AddNode(p string, mode uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = path.Clean(p)
	c.mkdirAllLocked(path.Dir(p))
	c.nodes[p] = &node{mode: mode}
}

// Fail makes every operation on p return err.
func (c *MemClient) Fail(p string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[path.Clean(p)] = err
}

// Closed reports whether Close has been called.
func (c *MemClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCount reports how many times Close was called.
func (c *MemClient) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *MemClient) mkdirAllLocked(p string) {
	for dir := p; ; dir = path.Dir(dir) {
		if _, ok := c.nodes[dir]; !ok {
			c.nodes[dir] = &node{dir: true, mode: 0o040755}
		}
		if dir == "/" || dir == "." {
			return
		}
	}
}

func (c *MemClient) lookup(p string) (*node, error) {
	if c.closed {
		return nil, ErrClosed
	}
	p = path.Clean(p)
	if err, ok := c.failures[p]; ok {
		return nil, err
	}
	n, ok := c.nodes[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return n, nil
}

func (c *MemClient) Stat(p string) (os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.lookup(p)
	if err != nil {
		return nil, err
	}
	return fileInfo{name: path.Base(p), n: n}, nil
}

func (c *MemClient) ReadDir(p string) ([]os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.lookup(p)
	if err != nil {
		return nil, err
	}
	if !n.dir {
		return nil, errors.New("sftp: \"Failure\" (SSH_FX_FAILURE)")
	}

	prefix := strings.TrimSuffix(path.Clean(p), "/") + "/"
	var out []os.FileInfo
	for name, child := range c.nodes {
		if name == "/" || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, fileInfo{name: rest, n: child})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (c *MemClient) Open(p string) (shellsftp.ReadableFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.dir {
		return nil, errors.New("sftp: \"Failure\" (SSH_FX_FAILURE)")
	}
	return &memFile{Reader: bytes.NewReader(n.data)}, nil
}

func (c *MemClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return nil
}

type memFile struct {
	*bytes.Reader
}

func (*memFile) Close() error { return nil }

type fileInfo struct {
	name string
	n    *node
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(len(fi.n.data)) }
func (fi fileInfo) ModTime() time.Time { return time.Unix(int64(fi.n.mtime), 0) }
func (fi fileInfo) IsDir() bool        { return fi.n.mode&0o170000 == 0o040000 }

func (fi fileInfo) Mode() fs.FileMode {
	perm := fs.FileMode(fi.n.mode & 0o777)
	switch fi.n.mode & 0o170000 {
	case 0o040000:
		return perm | fs.ModeDir
	case 0o120000:
		return perm | fs.ModeSymlink
	}
	return perm
}

// Sys exposes the raw wire attributes the way pkg/sftp does.
func (fi fileInfo) Sys() any {
	return &pkgsftp.FileStat{
		Size:  uint64(len(fi.n.data)),
		Mode:  fi.n.mode,
		Mtime: fi.n.mtime,
		Atime: fi.n.mtime,
	}
}
