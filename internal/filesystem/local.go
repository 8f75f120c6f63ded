package filesystem

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/charlesng35/sessionlens/pkg/logger"
)

var _ Provider = (*Local)(nil)

// Local implements Provider directly against the OS filesystem.
type Local struct {
	log *zap.Logger
}

// NewLocal returns the local disk backend. It has no connect step and cannot fail.
func NewLocal() *Local {
	return &Local{log: logger.WithModule("filesystem.local")}
}

func (*Local) Kind() Kind { return KindLocal }

func (l *Local) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (l *Local) ReadFile(path string, encoding Encoding) (string, error) {
	enc, err := encoding.Normalize()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", wrapPathError("read", path, err, false)
	}
	return enc.decode(data)
}

func (l *Local) Stat(path string) (StatResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return StatResult{}, wrapPathError("stat", path, err, false)
	}

	modified := info.ModTime().UnixMilli()
	created := modified
	if bt := birthTime(path, info); !bt.IsZero() {
		created = bt.UnixMilli()
	}

	return StatResult{
		Size:         info.Size(),
		ModifiedAtMs: modified,
		CreatedAtMs:  created,
		IsFile:       info.Mode().IsRegular(),
		IsDirectory:  info.IsDir(),
	}, nil
}

func (l *Local) ReadDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, wrapPathError("readdir", path, err, false)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, DirEntry{
			Name:        entry.Name(),
			IsFile:      entry.Type().IsRegular(),
			IsDirectory: entry.IsDir(),
		})
	}
	return out, nil
}

func (l *Local) OpenReadStream(path string, opts ReadStreamOptions) io.ReadCloser {
	enc, err := opts.Encoding.Normalize()
	if err != nil {
		return ErrorStream(err)
	}

	f, err := os.Open(path)
	if err != nil {
		l.log.Debug("open read stream failed", zap.String("path", path), zap.Error(err))
		return ErrorStream(wrapPathError("open", path, err, false))
	}
	if opts.Start > 0 {
		if _, err := f.Seek(opts.Start, io.SeekStart); err != nil {
			_ = f.Close()
			return ErrorStream(wrapPathError("seek", path, err, false))
		}
	}
	return enc.wrap(f)
}

// Dispose is a no-op: the local backend holds no persistent channel.
func (*Local) Dispose() {}
