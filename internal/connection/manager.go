package connection

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/sessionlens/internal/filesystem"
	shellsftp "github.com/charlesng35/sessionlens/internal/sftp"
	"github.com/charlesng35/sessionlens/internal/sshclient"
	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
	"github.com/charlesng35/sessionlens/pkg/logger"
	"github.com/charlesng35/sessionlens/pkg/metrics"
)

const subscriberBuffer = 16

// Session is a live authenticated connection carrying one SFTP channel.
type Session interface {
	SFTP() shellsftp.Client
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(ctx context.Context, target sshclient.Target) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, target sshclient.Target) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, target sshclient.Target) (Session, error) {
	return f(ctx, target)
}

// SSHDialer adapts an sshclient.Dialer.
func SSHDialer(d *sshclient.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context, target sshclient.Target) (Session, error) {
		session, err := d.Dial(ctx, target)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}

// Options configures a Manager.
type Options struct {
	Dialer Dialer
	// Local is the fallback backend; defaults to filesystem.NewLocal().
	Local filesystem.Provider
	// ProjectsDir is appended to each home candidate during root resolution.
	ProjectsDir string
	Logger      *zap.Logger
}

// Manager is the sole owner of the connection state and of the active
// filesystem backend. All methods are safe for concurrent use.
type Manager struct {
	dialer      Dialer
	local       filesystem.Provider
	projectsDir string
	log         *zap.Logger

	mu            sync.Mutex
	status        Status
	provider      filesystem.Provider
	remote        *filesystem.Remote
	session       Session
	generation    uint64
	cancelConnect context.CancelFunc
	subscribers   map[uint64]chan Status
	nextSubID     uint64
	disposed      bool
}

// NewManager constructs a Manager in the disconnected state with the local
// backend active.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.WithModule("connection")
	}
	local := opts.Local
	if local == nil {
		local = filesystem.NewLocal()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = SSHDialer(sshclient.NewDialer(sshclient.Options{Logger: log.Named("ssh")}))
	}
	projectsDir := opts.ProjectsDir
	if projectsDir == "" {
		projectsDir = DefaultProjectsDir
	}

	return &Manager{
		dialer:      dialer,
		local:       local,
		projectsDir: projectsDir,
		log:         log,
		status:      Status{State: StateDisconnected},
		provider:    local,
		subscribers: make(map[uint64]chan Status),
	}
}

// Provider returns the active backend. Callers must not retain it beyond a
// single operation since it changes on connect and disconnect.
func (m *Manager) Provider() filesystem.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// Status returns the last published snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsRemote reports whether the remote backend is active and connected.
func (m *Manager) IsRemote() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.State == StateConnected && m.provider.Kind() == filesystem.KindSSH
}

// RemoteDataRoot returns the resolved transcript directory on the remote
// host, or "" when not connected.
func (m *Manager) RemoteDataRoot() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.RemoteDataRoot
}

// Connect tears down any prior session, publishing disconnected when one was
// live, then authenticates, opens the SFTP channel and resolves the remote
// data root. The remote backend becomes active in the same step that
// publishes the connected status.
//
// A later Connect, Disconnect or Dispose supersedes an attempt in flight; the
// superseded call closes whatever it established and returns
// ErrConnectSuperseded without touching state.
func (m *Manager) Connect(ctx context.Context, profile Profile) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return apperrors.ErrManagerDisposed
	}
	wasActive := m.session != nil || m.status.State == StateConnected
	m.teardownLocked()
	if wasActive {
		m.setStatusLocked(Status{State: StateDisconnected})
	}
	gen := m.generation
	attemptCtx, cancel := context.WithCancel(ctx)
	m.cancelConnect = cancel
	m.setStatusLocked(Status{State: StateConnecting, Host: profile.Host})
	m.mu.Unlock()
	defer cancel()

	if err := profile.Validate(); err != nil {
		return m.failConnect(gen, profile.Host, err)
	}

	session, err := m.dialer.Dial(attemptCtx, profile.Target())
	if err != nil {
		return m.failConnect(gen, profile.Host, err)
	}

	remote := filesystem.NewRemote(session.SFTP(), m.log.Named("remote"))
	root := resolveDataRoot(remote, profile.Username, m.projectsDir)

	m.mu.Lock()
	if m.generation != gen || m.disposed {
		m.mu.Unlock()
		remote.Dispose()
		if err := session.Close(); err != nil {
			m.log.Debug("close superseded session", zap.Error(err))
		}
		metrics.ConnectAttempts.WithLabelValues("superseded").Inc()
		return apperrors.ErrConnectSuperseded
	}
	m.cancelConnect = nil
	m.session = session
	m.remote = remote
	m.provider = remote
	m.setStatusLocked(Status{State: StateConnected, Host: profile.Host, RemoteDataRoot: root})
	m.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues("success").Inc()
	m.log.Info("connected",
		zap.String("host", profile.Host),
		zap.String("user", profile.Username),
		zap.String("remote_data_root", root),
	)

	go m.watch(gen, session)
	return nil
}

func (m *Manager) failConnect(gen uint64, host string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.disposed {
		metrics.ConnectAttempts.WithLabelValues("superseded").Inc()
		return apperrors.ErrConnectSuperseded.WithInternal(err)
	}
	metrics.ConnectAttempts.WithLabelValues("failure").Inc()
	m.log.Error("connect failed",
		zap.String("host", host),
		zap.String("code", apperrors.FromError(err).Code),
		zap.Error(err),
	)

	m.cancelConnect = nil
	m.setStatusLocked(Status{State: StateError, Host: host, Error: err.Error()})
	return err
}

// watch falls back to the local backend when session ends on its own.
func (m *Manager) watch(gen uint64, session Session) {
	<-session.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.disposed {
		return
	}

	cause := session.Err()
	host := m.status.Host
	m.teardownLocked()
	if cause != nil {
		m.log.Warn("remote session lost", zap.String("host", host), zap.Error(cause))
		m.setStatusLocked(Status{State: StateError, Host: host, Error: cause.Error()})
	} else {
		m.log.Info("remote session closed", zap.String("host", host))
	}
	m.setStatusLocked(Status{State: StateDisconnected})
}

// TestConnection dials profile and closes the session straight away. It has
// no effect on state or on the active backend.
func (m *Manager) TestConnection(ctx context.Context, profile Profile) TestResult {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()
	if disposed {
		return TestResult{Error: apperrors.ErrManagerDisposed.Error()}
	}

	if err := profile.Validate(); err != nil {
		return TestResult{Error: err.Error()}
	}

	session, err := m.dialer.Dial(ctx, profile.Target())
	if err != nil {
		m.log.Debug("test connection failed", zap.String("host", profile.Host), zap.Error(err))
		return TestResult{Error: err.Error()}
	}
	if err := session.Close(); err != nil {
		m.log.Debug("close test session", zap.Error(err))
	}
	return TestResult{Success: true}
}

// Disconnect tears down the session and reverts to the local backend. It is
// a no-op when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || (m.status.State == StateDisconnected && m.session == nil) {
		return
	}
	m.teardownLocked()
	m.setStatusLocked(Status{State: StateDisconnected})
}

// Dispose releases every resource and closes all subscriber channels. The
// manager is not reusable afterwards. Safe to call repeatedly.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	m.teardownLocked()
	m.disposed = true
	m.status = Status{State: StateDisconnected}
	metrics.RemoteConnected.Set(0)
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
	m.local.Dispose()
}

// Subscribe returns a channel receiving every published snapshot and a
// function that unsubscribes. A subscriber that falls behind loses its
// oldest queued snapshots, never the latest one.
func (m *Manager) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Status, subscriberBuffer)
	if m.disposed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(c)
			}
		})
	}
}

// teardownLocked invalidates in-flight attempts and watchers, closes the
// remote backend and session, and makes the local backend active.
func (m *Manager) teardownLocked() {
	m.generation++
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	if m.remote != nil {
		m.remote.Dispose()
		m.remote = nil
	}
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.log.Warn("close session", zap.Error(err))
		}
		m.session = nil
	}
	m.provider = m.local
}

func (m *Manager) setStatusLocked(status Status) {
	m.status = status
	metrics.StateTransitions.WithLabelValues(string(status.State)).Inc()
	if status.State == StateConnected {
		metrics.RemoteConnected.Set(1)
	} else {
		metrics.RemoteConnected.Set(0)
	}
	m.log.Debug("connection state changed",
		zap.String("state", string(status.State)),
		zap.String("host", status.Host),
	)
	for _, ch := range m.subscribers {
		deliver(ch, status)
	}
}

// deliver never blocks. Only the publisher sends, under the manager lock, so
// dropping one queued value always makes room.
func deliver(ch chan Status, status Status) {
	for {
		select {
		case ch <- status:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
