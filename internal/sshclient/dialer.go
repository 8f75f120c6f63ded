// Package sshclient establishes authenticated SSH sessions and opens the SFTP
// data-transfer channel on top of them.
package sshclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgsftp "github.com/pkg/sftp"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"

	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
	"github.com/charlesng35/sessionlens/pkg/logger"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultPort        = 22
	defaultMaxPacket   = 1 << 15
)

// Target is everything needed to reach and authenticate against one host.
type Target struct {
	Host           string
	Port           int
	Username       string
	AuthMethod     AuthMethod
	Password       string
	PrivateKeyPath string
	Passphrase     string
}

// Address returns host:port, defaulting the port to 22.
func (t Target) Address() string {
	port := t.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Options configures a Dialer. Zero values select defaults.
type Options struct {
	// Timeout bounds TCP connect, SSH handshake and SFTP channel open together.
	Timeout time.Duration
	// DefaultKeyPath is used when a target has no explicit key; empty means ~/.ssh/id_rsa.
	DefaultKeyPath string
	// AgentSocketEnv names the variable holding the agent socket path.
	AgentSocketEnv string
	// KnownHostsPath enables host key verification when set.
	KnownHostsPath string
	// MaxPacket sets the SFTP packet size.
	MaxPacket int
	Logger    *zap.Logger

	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	ReadFile    func(path string) ([]byte, error)
	Getenv      func(key string) string
	HomeDir     func() (string, error)
}

// Dialer turns a Target into a live Session.
type Dialer struct {
	opts Options
	log  *zap.Logger
}

// NewDialer constructs a Dialer, filling unset options with defaults.
func NewDialer(opts Options) *Dialer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDialTimeout
	}
	if strings.TrimSpace(opts.AgentSocketEnv) == "" {
		opts.AgentSocketEnv = DefaultAgentSocketEnv
	}
	if opts.MaxPacket <= 0 {
		opts.MaxPacket = defaultMaxPacket
	}
	if opts.DialContext == nil {
		var d net.Dialer
		opts.DialContext = d.DialContext
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.HomeDir == nil {
		opts.HomeDir = defaultHomeDir
	}
	log := opts.Logger
	if log == nil {
		log = logger.WithModule("sshclient")
	}
	return &Dialer{opts: opts, log: log}
}

// Dial authenticates against target and opens the SFTP channel. The whole
// sequence is aborted when ctx is cancelled or the configured timeout elapses.
func (d *Dialer) Dial(ctx context.Context, target Target) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	auth, agentConn, err := d.authMethods(target)
	if err != nil {
		return nil, err
	}
	closeAgent := func() {
		if agentConn != nil {
			_ = agentConn.Close()
		}
	}

	hostKeyCallback, err := d.hostKeyCallback()
	if err != nil {
		closeAgent()
		return nil, err
	}

	addr := target.Address()
	dialCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	conn, err := d.opts.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, apperrors.ErrHandshakeFailure.WithMessage("dial " + addr).WithInternal(err)
	}

	// x/crypto/ssh has no context support; the deadline and the AfterFunc
	// below unblock the handshake on timeout or cancellation.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(dialCtx, func() { _ = conn.Close() })

	clientConfig := &gossh.ClientConfig{
		User:            target.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.opts.Timeout,
	}

	clientConn, chans, reqs, err := gossh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		stop()
		_ = conn.Close()
		closeAgent()
		if ctxErr := dialCtx.Err(); ctxErr != nil {
			return nil, apperrors.ErrHandshakeFailure.WithMessage("connect " + addr).WithInternal(ctxErr)
		}
		return nil, classifyHandshakeError(err)
	}
	client := gossh.NewClient(clientConn, chans, reqs)

	sftpClient, err := pkgsftp.NewClient(client, pkgsftp.MaxPacket(d.opts.MaxPacket))
	if !stop() && err == nil {
		// the context fired between handshake and channel open
		_ = sftpClient.Close()
		err = dialCtx.Err()
	}
	if err != nil {
		_ = client.Close()
		closeAgent()
		if ctxErr := dialCtx.Err(); ctxErr != nil {
			return nil, apperrors.ErrHandshakeFailure.WithMessage("connect " + addr).WithInternal(ctxErr)
		}
		return nil, apperrors.ErrChannelOpenFailure.WithMessage("").WithInternal(fmt.Errorf("ssh: create sftp client: %w", err))
	}
	_ = conn.SetDeadline(time.Time{})

	session := newSession(uuid.NewString(), addr, client, sftpClient, agentConn, d.log)
	d.log.Info("ssh session established",
		zap.String("session_id", session.ID()),
		zap.String("addr", addr),
		zap.String("user", target.Username),
		zap.String("auth_method", string(target.AuthMethod)),
	)
	return session, nil
}

// classifyHandshakeError separates rejected credentials from transport and
// protocol failures. The transport's own message is kept verbatim.
func classifyHandshakeError(err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return apperrors.ErrAuthenticationFailure.WithMessage("").WithInternal(err)
	}
	return apperrors.ErrHandshakeFailure.WithMessage("").WithInternal(err)
}

var _ io.Closer = (*Session)(nil)
