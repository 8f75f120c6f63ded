package sshclient_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	pkgsftp "github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

type mockServerOptions struct {
	Username      string
	Password      string
	AuthorizedKey gossh.PublicKey
	RejectSFTP    bool
	// KeyboardPassword is accepted only through keyboard-interactive.
	KeyboardPassword string
}

type mockSSHServer struct {
	Port int

	mu    sync.Mutex
	conns []*gossh.ServerConn
}

func startMockSSHServer(t *testing.T, opts mockServerOptions) *mockSSHServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := gossh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	serverConfig := &gossh.ServerConfig{
		PasswordCallback: func(conn gossh.ConnMetadata, password []byte) (*gossh.Permissions, error) {
			if opts.Password != "" && conn.User() == opts.Username && string(password) == opts.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("permission denied")
		},
		PublicKeyCallback: func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if opts.AuthorizedKey != nil && conn.User() == opts.Username &&
				bytes.Equal(key.Marshal(), opts.AuthorizedKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
		KeyboardInteractiveCallback: func(conn gossh.ConnMetadata, challenge gossh.KeyboardInteractiveChallenge) (*gossh.Permissions, error) {
			if opts.KeyboardPassword == "" || conn.User() != opts.Username {
				return nil, fmt.Errorf("permission denied")
			}
			answers, err := challenge(conn.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 1 && answers[0] == opts.KeyboardPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("permission denied")
		},
	}
	serverConfig.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	server := &mockSSHServer{Port: port}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go server.handle(conn, serverConfig, opts)
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()
		server.DropAll()
	})
	return server
}

// DropAll terminates every accepted SSH connection from the server side.
func (s *mockSSHServer) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *mockSSHServer) handle(conn net.Conn, config *gossh.ServerConfig, opts mockServerOptions) {
	defer conn.Close()

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	s.mu.Lock()
	s.conns = append(s.conns, sshConn)
	s.mu.Unlock()

	go gossh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go func(in <-chan *gossh.Request) {
			for req := range in {
				var payload struct{ Name string }
				if req.Type == "subsystem" && gossh.Unmarshal(req.Payload, &payload) == nil &&
					payload.Name == "sftp" && !opts.RejectSFTP {
					_ = req.Reply(true, nil)
					go serveSFTP(channel)
					continue
				}
				_ = req.Reply(false, nil)
			}
		}(requests)
	}
}

func serveSFTP(channel gossh.Channel) {
	defer channel.Close()
	server, err := pkgsftp.NewServer(channel)
	if err != nil {
		return
	}
	_ = server.Serve()
	_ = server.Close()
}

// newKeyPair returns an ed25519 key and its signer.
func newKeyPair(t *testing.T) (ed25519.PrivateKey, gossh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := gossh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return priv, signer
}

// startAgent serves a keyring holding key on a unix socket and returns its path.
func startAgent(t *testing.T, key ed25519.PrivateKey) string {
	t.Helper()

	keyring := agent.NewKeyring()
	require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: key}))

	dir, err := os.MkdirTemp("", "sl-agent")
	require.NoError(t, err)
	sock := filepath.Join(dir, "agent.sock")

	listener, err := net.Listen("unix", sock)
	require.NoError(t, err)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = agent.ServeAgent(keyring, conn)
			}()
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()
		_ = os.RemoveAll(dir)
	})
	return sock
}
