package sshclient

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	pkgsftp "github.com/pkg/sftp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"

	shellsftp "github.com/charlesng35/sessionlens/internal/sftp"
)

// Session is one authenticated SSH connection carrying one SFTP channel.
type Session struct {
	id     string
	addr   string
	client *gossh.Client
	sftp   *pkgsftp.Client
	agent  io.Closer
	log    *zap.Logger

	done    chan struct{}
	err     error
	closing atomic.Bool

	sftpOnce  sync.Once
	sftpErr   error
	closeOnce sync.Once
	closeErr  error
}

func newSession(id, addr string, client *gossh.Client, sftpClient *pkgsftp.Client, agentConn io.Closer, log *zap.Logger) *Session {
	s := &Session{
		id:     id,
		addr:   addr,
		client: client,
		sftp:   sftpClient,
		agent:  agentConn,
		log:    log.With(zap.String("session_id", id)),
		done:   make(chan struct{}),
	}
	go s.watch()
	return s
}

// watch waits for the connection to end. A locally requested close or a
// clean EOF from the peer leaves Err nil.
func (s *Session) watch() {
	err := s.client.Wait()
	if s.closing.Load() || errors.Is(err, io.EOF) {
		err = nil
	}
	s.err = err
	if err != nil {
		s.log.Warn("ssh connection lost", zap.String("addr", s.addr), zap.Error(err))
	} else {
		s.log.Info("ssh connection ended", zap.String("addr", s.addr))
	}
	close(s.done)
}

// ID returns the correlation identifier assigned at dial time.
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the underlying SSH connection has ended for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the connection ended. It is nil while the session is
// alive, after a clean remote close and after Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// SFTP exposes the data-transfer channel. Closing it leaves the SSH
// connection up; Close on the Session closes both.
func (s *Session) SFTP() shellsftp.Client {
	return &sftpClientWrapper{session: s}
}

func (s *Session) closeSFTP() error {
	s.sftpOnce.Do(func() {
		if s.sftp != nil {
			s.sftpErr = s.sftp.Close()
		}
	})
	return s.sftpErr
}

// Close terminates the SFTP channel, the SSH connection and any agent
// connection. It is safe to call repeatedly.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		var err error
		err = multierr.Append(err, ignoreClosed(s.closeSFTP()))
		if s.client != nil {
			err = multierr.Append(err, ignoreClosed(s.client.Close()))
		}
		if s.agent != nil {
			err = multierr.Append(err, ignoreClosed(s.agent.Close()))
		}
		s.closeErr = err
	})
	return s.closeErr
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type sftpClientWrapper struct {
	session *Session
}

var _ shellsftp.Client = (*sftpClientWrapper)(nil)

func (w *sftpClientWrapper) client() (*pkgsftp.Client, error) {
	if w == nil || w.session == nil || w.session.sftp == nil {
		return nil, errors.New("ssh: sftp client unavailable")
	}
	return w.session.sftp, nil
}

func (w *sftpClientWrapper) Stat(path string) (os.FileInfo, error) {
	c, err := w.client()
	if err != nil {
		return nil, err
	}
	return c.Stat(path)
}

func (w *sftpClientWrapper) ReadDir(path string) ([]os.FileInfo, error) {
	c, err := w.client()
	if err != nil {
		return nil, err
	}
	return c.ReadDir(path)
}

func (w *sftpClientWrapper) Open(path string) (shellsftp.ReadableFile, error) {
	c, err := w.client()
	if err != nil {
		return nil, err
	}
	f, err := c.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (w *sftpClientWrapper) Close() error {
	if w == nil || w.session == nil {
		return nil
	}
	return w.session.closeSFTP()
}
