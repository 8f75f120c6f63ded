package filesystem

import (
	"io"
	"io/fs"
	"os"
	"sync"

	pkgsftp "github.com/pkg/sftp"
	"go.uber.org/zap"

	shellsftp "github.com/charlesng35/sessionlens/internal/sftp"
	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
	"github.com/charlesng35/sessionlens/pkg/logger"
	"github.com/charlesng35/sessionlens/pkg/metrics"
)

// POSIX file-type bits as carried in the SFTP attrs mode field.
const (
	modeTypeMask  = 0o170000
	modeRegular   = 0o100000
	modeDirectory = 0o040000
	modeSymlink   = 0o120000
	modeNamedPipe = 0o010000
	modeSocket    = 0o140000
	modeCharDev   = 0o020000
	modeBlockDev  = 0o060000
)

var _ Provider = (*Remote)(nil)

// Remote implements Provider over one live SFTP channel. The channel is
// created and handed over by the connection manager; Remote never dials.
type Remote struct {
	client shellsftp.Client
	log    *zap.Logger

	disposeOnce sync.Once
}

// NewRemote wraps an established SFTP client.
func NewRemote(client shellsftp.Client, log *zap.Logger) *Remote {
	if log == nil {
		log = logger.WithModule("filesystem.remote")
	}
	return &Remote{client: client, log: log}
}

func (*Remote) Kind() Kind { return KindSSH }

func (r *Remote) Exists(path string) bool {
	_, err := r.client.Stat(path)
	metrics.ObserveRemoteOp("stat", err)
	return err == nil
}

func (r *Remote) ReadFile(path string, encoding Encoding) (string, error) {
	enc, err := encoding.Normalize()
	if err != nil {
		return "", err
	}

	data, err := r.readAll(path)
	metrics.ObserveRemoteOp("read", err)
	if err != nil {
		return "", err
	}
	return enc.decode(data)
}

func (r *Remote) readAll(path string) ([]byte, error) {
	f, err := r.client.Open(path)
	if err != nil {
		return nil, wrapPathError("open", path, err, true)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, wrapPathError("read", path, err, true)
	}
	return data, nil
}

func (r *Remote) Stat(path string) (StatResult, error) {
	info, err := r.client.Stat(path)
	metrics.ObserveRemoteOp("stat", err)
	if err != nil {
		return StatResult{}, wrapPathError("stat", path, err, true)
	}

	attrs := remoteAttrs(info)
	isFile, isDir := fileKind(attrs.mode)
	return StatResult{
		Size:         attrs.size,
		ModifiedAtMs: attrs.mtimeMs,
		CreatedAtMs:  attrs.mtimeMs,
		IsFile:       isFile,
		IsDirectory:  isDir,
	}, nil
}

func (r *Remote) ReadDir(path string) ([]DirEntry, error) {
	infos, err := r.client.ReadDir(path)
	metrics.ObserveRemoteOp("readdir", err)
	if err != nil {
		return nil, r.readDirError(path, err)
	}

	out := make([]DirEntry, 0, len(infos))
	for _, info := range infos {
		attrs := remoteAttrs(info)
		isFile, isDir := fileKind(attrs.mode)
		out = append(out, DirEntry{
			Name:         info.Name(),
			IsFile:       isFile,
			IsDirectory:  isDir,
			Size:         int64Ptr(attrs.size),
			ModifiedAtMs: int64Ptr(attrs.mtimeMs),
			CreatedAtMs:  int64Ptr(attrs.mtimeMs),
		})
	}
	return out, nil
}

// readDirError distinguishes "not a directory" from generic failures; SFTP
// servers report opendir on a regular file with an untyped failure status.
func (r *Remote) readDirError(path string, err error) error {
	if classify(err) != nil {
		return wrapPathError("readdir", path, err, true)
	}
	if info, statErr := r.client.Stat(path); statErr == nil && !info.IsDir() {
		return apperrors.ErrNotADirectory.WithMessage("readdir " + path).WithInternal(err)
	}
	return wrapPathError("readdir", path, err, true)
}

// OpenReadStream opens and pumps the remote file on a background goroutine,
// so open failures surface on the first Read rather than here.
func (r *Remote) OpenReadStream(path string, opts ReadStreamOptions) io.ReadCloser {
	enc, err := opts.Encoding.Normalize()
	if err != nil {
		return ErrorStream(err)
	}

	pr, pw := io.Pipe()
	go r.pump(path, opts.Start, pw)
	return enc.wrap(pr)
}

func (r *Remote) pump(path string, start int64, pw *io.PipeWriter) {
	f, err := r.client.Open(path)
	metrics.ObserveRemoteOp("open", err)
	if err != nil {
		r.log.Debug("open remote stream failed", zap.String("path", path), zap.Error(err))
		pw.CloseWithError(wrapPathError("open", path, err, true))
		return
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			pw.CloseWithError(wrapPathError("seek", path, err, true))
			return
		}
	}

	if _, err := io.Copy(pw, f); err != nil {
		if err == io.ErrClosedPipe {
			return
		}
		pw.CloseWithError(wrapPathError("read", path, err, true))
		return
	}
	pw.Close()
}

// Dispose closes the SFTP channel. Later calls are no-ops.
func (r *Remote) Dispose() {
	r.disposeOnce.Do(func() {
		if err := r.client.Close(); err != nil {
			r.log.Debug("close sftp channel", zap.Error(err))
		}
	})
}

type attrs struct {
	mode    uint32
	size    int64
	mtimeMs int64
}

// remoteAttrs prefers the raw wire attributes and falls back to the generic
// FileInfo view for clients that do not expose them.
func remoteAttrs(info os.FileInfo) attrs {
	if st, ok := info.Sys().(*pkgsftp.FileStat); ok && st != nil {
		return attrs{
			mode:    st.Mode,
			size:    int64(st.Size),
			mtimeMs: int64(st.Mtime) * 1000,
		}
	}
	return attrs{
		mode:    posixMode(info.Mode()),
		size:    info.Size(),
		mtimeMs: info.ModTime().Unix() * 1000,
	}
}

// fileKind masks the file-type field of a POSIX mode.
func fileKind(mode uint32) (isFile, isDir bool) {
	switch mode & modeTypeMask {
	case modeRegular:
		return true, false
	case modeDirectory:
		return false, true
	}
	return false, false
}

func posixMode(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	switch {
	case m.IsDir():
		bits |= modeDirectory
	case m&fs.ModeSymlink != 0:
		bits |= modeSymlink
	case m&fs.ModeNamedPipe != 0:
		bits |= modeNamedPipe
	case m&fs.ModeSocket != 0:
		bits |= modeSocket
	case m&fs.ModeCharDevice != 0:
		bits |= modeCharDev
	case m&fs.ModeDevice != 0:
		bits |= modeBlockDev
	default:
		bits |= modeRegular
	}
	return bits
}
