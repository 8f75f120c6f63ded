package filesystem

import (
	"errors"
	"io/fs"
	"syscall"

	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
)

// classify maps an OS or SFTP error onto the filesystem taxonomy. It returns
// nil when the error carries no filesystem meaning.
func classify(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return apperrors.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return apperrors.ErrAccessDenied
	case errors.Is(err, syscall.ENOTDIR):
		return apperrors.ErrNotADirectory
	}
	return nil
}

// wrapPathError tags err with op and path and attaches the taxonomy code.
// Unclassified errors become ErrTransientBackend when transient is set, and
// are returned unchanged otherwise.
func wrapPathError(op, path string, err error, transient bool) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	cause := err
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		cause = pathErr.Err
	}

	kind := classify(err)
	if kind == nil {
		if !transient {
			return &fs.PathError{Op: op, Path: path, Err: cause}
		}
		kind = apperrors.ErrTransientBackend
	}
	return kind.WithMessage(op + " " + path).WithInternal(cause)
}
