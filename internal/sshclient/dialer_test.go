package sshclient_test

import (
	"context"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"

	"github.com/charlesng35/sessionlens/internal/filesystem"
	"github.com/charlesng35/sessionlens/internal/sshclient"
	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
)

const (
	testUser     = "alice"
	testPassword = "s3cret"
)

func newTestDialer(opts sshclient.Options) *sshclient.Dialer {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	opts.Logger = zap.NewNop()
	return sshclient.NewDialer(opts)
}

func passwordTarget(port int, password string) sshclient.Target {
	return sshclient.Target{
		Host:       "127.0.0.1",
		Port:       port,
		Username:   testUser,
		AuthMethod: sshclient.AuthPassword,
		Password:   password,
	}
}

func waitDone(t *testing.T, s *sshclient.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestTargetAddressDefaultsPort(t *testing.T) {
	require.Equal(t, "example.com:22", sshclient.Target{Host: "example.com"}.Address())
	require.Equal(t, "example.com:2222", sshclient.Target{Host: "example.com", Port: 2222}.Address())
	require.Equal(t, "[::1]:22", sshclient.Target{Host: "::1"}.Address())
}

func TestDialWithPassword(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, Password: testPassword})

	dir := t.TempDir()
	file := filepath.Join(dir, "session.jsonl")
	require.NoError(t, os.WriteFile(file, []byte("{\"cwd\":\"/work\"}\n"), 0o600))

	session, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(server.Port, testPassword))
	require.NoError(t, err)
	require.NotEmpty(t, session.ID())

	info, err := session.SFTP().Stat(file)
	require.NoError(t, err)
	require.Equal(t, int64(16), info.Size())

	f, err := session.SFTP().Open(file)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "{\"cwd\":\"/work\"}\n", string(data))

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	waitDone(t, session)
	require.NoError(t, session.Err())
}

func TestDialWrongPasswordIsAuthenticationFailure(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, Password: testPassword})

	_, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(server.Port, "wrong"))
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrAuthenticationFailure), "got %v", err)
	require.Contains(t, err.Error(), "unable to authenticate")
}

func TestDialPasswordDoesNotFallBackToKeyboardInteractive(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, KeyboardPassword: testPassword})

	_, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(server.Port, testPassword))
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrAuthenticationFailure), "got %v", err)
}

func TestDialWithPrivateKey(t *testing.T) {
	priv, signer := newKeyPair(t)
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, AuthorizedKey: signer.PublicKey()})

	block, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	session, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), sshclient.Target{
		Host:           "127.0.0.1",
		Port:           server.Port,
		Username:       testUser,
		AuthMethod:     sshclient.AuthPrivateKey,
		PrivateKeyPath: keyPath,
	})
	require.NoError(t, err)
	require.NoError(t, session.Close())
}

func TestDialWithEncryptedPrivateKey(t *testing.T) {
	priv, signer := newKeyPair(t)
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, AuthorizedKey: signer.PublicKey()})

	block, err := gossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	target := sshclient.Target{
		Host:           "127.0.0.1",
		Port:           server.Port,
		Username:       testUser,
		AuthMethod:     sshclient.AuthPrivateKey,
		PrivateKeyPath: keyPath,
	}
	dialer := newTestDialer(sshclient.Options{})

	_, err = dialer.Dial(context.Background(), target)
	require.True(t, errors.Is(err, apperrors.ErrAuthenticationFailure), "got %v", err)
	require.Contains(t, err.Error(), "encrypted")

	target.Passphrase = "hunter2"
	session, err := dialer.Dial(context.Background(), target)
	require.NoError(t, err)
	require.NoError(t, session.Close())
}

func TestDialMissingPrivateKeyNamesPath(t *testing.T) {
	dialed := false
	dialer := newTestDialer(sshclient.Options{
		DialContext: func(context.Context, string, string) (net.Conn, error) {
			dialed = true
			return nil, errors.New("unexpected dial")
		},
	})

	missing := filepath.Join(t.TempDir(), "absent_key")
	_, err := dialer.Dial(context.Background(), sshclient.Target{
		Host:           "127.0.0.1",
		Username:       testUser,
		AuthMethod:     sshclient.AuthPrivateKey,
		PrivateKeyPath: missing,
	})
	require.True(t, errors.Is(err, apperrors.ErrAuthenticationFailure), "got %v", err)
	require.Contains(t, err.Error(), "cannot read private key at "+missing)
	require.False(t, dialed)
}

func TestDialDefaultKeyPathUnderHome(t *testing.T) {
	home := t.TempDir()
	var readPath string
	dialer := newTestDialer(sshclient.Options{
		HomeDir: func() (string, error) { return home, nil },
		ReadFile: func(path string) ([]byte, error) {
			readPath = path
			return nil, os.ErrNotExist
		},
	})

	_, err := dialer.Dial(context.Background(), sshclient.Target{
		Host:       "127.0.0.1",
		Username:   testUser,
		AuthMethod: sshclient.AuthPrivateKey,
	})
	require.Error(t, err)
	require.Equal(t, filepath.Join(home, ".ssh", "id_rsa"), readPath)

	_, err = dialer.Dial(context.Background(), sshclient.Target{
		Host:           "127.0.0.1",
		Username:       testUser,
		AuthMethod:     sshclient.AuthPrivateKey,
		PrivateKeyPath: "~/keys/deploy",
	})
	require.Error(t, err)
	require.Equal(t, filepath.Join(home, "keys", "deploy"), readPath)
}

func TestDialAgentWithoutSocket(t *testing.T) {
	dialer := newTestDialer(sshclient.Options{
		Getenv: func(string) string { return "" },
	})

	_, err := dialer.Dial(context.Background(), sshclient.Target{
		Host:       "127.0.0.1",
		Username:   testUser,
		AuthMethod: sshclient.AuthAgent,
	})
	require.True(t, errors.Is(err, apperrors.ErrAuthenticationFailure), "got %v", err)
	require.Equal(t, "SSH_AUTH_SOCK environment variable is not set", err.Error())
}

func TestDialWithAgent(t *testing.T) {
	priv, signer := newKeyPair(t)
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, AuthorizedKey: signer.PublicKey()})
	sock := startAgent(t, priv)

	dialer := newTestDialer(sshclient.Options{
		Getenv: func(key string) string {
			if key == sshclient.DefaultAgentSocketEnv {
				return sock
			}
			return ""
		},
	})

	session, err := dialer.Dial(context.Background(), sshclient.Target{
		Host:       "127.0.0.1",
		Port:       server.Port,
		Username:   testUser,
		AuthMethod: sshclient.AuthAgent,
	})
	require.NoError(t, err)
	require.NoError(t, session.Close())
}

func TestDialUnsupportedAuthMethod(t *testing.T) {
	_, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), sshclient.Target{
		Host:       "127.0.0.1",
		Username:   testUser,
		AuthMethod: "kerberos",
	})
	require.True(t, errors.Is(err, apperrors.ErrAuthenticationFailure), "got %v", err)
	require.Contains(t, err.Error(), "kerberos")
}

func TestDialUnreachableHostIsHandshakeFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	_, err = newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(port, testPassword))
	require.True(t, errors.Is(err, apperrors.ErrHandshakeFailure), "got %v", err)
}

func TestDialSilentServerTimesOut(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 4)
	t.Cleanup(func() {
		_ = listener.Close()
		close(accepted)
		for conn := range accepted {
			_ = conn.Close()
		}
	})
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	started := time.Now()
	_, err = newTestDialer(sshclient.Options{Timeout: 200 * time.Millisecond}).
		Dial(context.Background(), passwordTarget(listener.Addr().(*net.TCPAddr).Port, testPassword))
	require.True(t, errors.Is(err, apperrors.ErrHandshakeFailure), "got %v", err)
	require.Less(t, time.Since(started), 3*time.Second)
}

func TestDialCanceledContext(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, Password: testPassword})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDialer(sshclient.Options{}).Dial(ctx, passwordTarget(server.Port, testPassword))
	require.True(t, errors.Is(err, apperrors.ErrHandshakeFailure), "got %v", err)
}

func TestDialSFTPRefusedIsChannelOpenFailure(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, Password: testPassword, RejectSFTP: true})

	_, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(server.Port, testPassword))
	require.True(t, errors.Is(err, apperrors.ErrChannelOpenFailure), "got %v", err)
	require.Contains(t, err.Error(), "sftp")
}

func TestSessionEndsWhenServerDrops(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, Password: testPassword})

	session, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(server.Port, testPassword))
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	select {
	case <-session.Done():
		t.Fatal("session ended before the drop")
	default:
	}
	require.NoError(t, session.Err())

	server.DropAll()
	waitDone(t, session)

	_, err = session.SFTP().Stat("/")
	require.Error(t, err)
}

func TestSFTPCloseLeavesSessionUp(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, Password: testPassword})

	session, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(server.Port, testPassword))
	require.NoError(t, err)

	require.NoError(t, session.SFTP().Close())
	require.NoError(t, session.SFTP().Close())

	select {
	case <-session.Done():
		t.Fatal("closing the sftp channel ended the session")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, session.Close())
	waitDone(t, session)
}

func TestRemoteProviderOverRealSFTP(t *testing.T) {
	server := startMockSSHServer(t, mockServerOptions{Username: testUser, Password: testPassword})

	root := t.TempDir()
	project := filepath.Join(root, "projects", "demo")
	require.NoError(t, os.MkdirAll(project, 0o755))
	file := filepath.Join(project, "s1.jsonl")
	require.NoError(t, os.WriteFile(file, []byte("first\nsecond\n"), 0o644))

	session, err := newTestDialer(sshclient.Options{}).Dial(context.Background(), passwordTarget(server.Port, testPassword))
	require.NoError(t, err)

	remote := filesystem.NewRemote(session.SFTP(), zap.NewNop())
	t.Cleanup(func() {
		remote.Dispose()
		_ = session.Close()
	})

	require.True(t, remote.Exists(project))
	require.False(t, remote.Exists(filepath.Join(root, "absent")))

	st, err := remote.Stat(file)
	require.NoError(t, err)
	require.True(t, st.IsFile)
	require.Equal(t, int64(13), st.Size)
	require.Positive(t, st.ModifiedAtMs)

	st, err = remote.Stat(project)
	require.NoError(t, err)
	require.True(t, st.IsDirectory)

	entries, err := remote.ReadDir(project)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "s1.jsonl", entries[0].Name)
	require.True(t, entries[0].IsFile)
	require.NotNil(t, entries[0].Size)
	require.Equal(t, int64(13), *entries[0].Size)

	_, err = remote.Stat(filepath.Join(root, "absent"))
	require.True(t, errors.Is(err, apperrors.ErrNotFound), "got %v", err)

	_, err = remote.ReadDir(file)
	require.True(t, errors.Is(err, apperrors.ErrNotADirectory), "got %v", err)

	text, err := remote.ReadFile(file, filesystem.EncodingUTF8)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", text)

	stream := remote.OpenReadStream(file, filesystem.ReadStreamOptions{Start: 6})
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.Equal(t, "second\n", string(data))

	stream = remote.OpenReadStream(file, filesystem.ReadStreamOptions{Encoding: filesystem.EncodingHex})
	data, err = io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.True(t, strings.HasPrefix(string(data), "6669727374"))
}
