package sshclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
)

// AuthMethod selects exactly one credential path per connect.
type AuthMethod string

const (
	AuthPassword   AuthMethod = "password"
	AuthPrivateKey AuthMethod = "privateKey"
	AuthAgent      AuthMethod = "agent"
)

// DefaultAgentSocketEnv is the environment variable holding the agent socket path.
const DefaultAgentSocketEnv = "SSH_AUTH_SOCK"

// authMethods builds the credential for target. The returned closer, when
// non-nil, owns an agent connection that must outlive the handshake.
func (d *Dialer) authMethods(target Target) ([]gossh.AuthMethod, io.Closer, error) {
	switch target.AuthMethod {
	case AuthPassword:
		return []gossh.AuthMethod{gossh.Password(target.Password)}, nil, nil

	case AuthPrivateKey:
		signer, err := d.loadSigner(target)
		if err != nil {
			return nil, nil, err
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, nil, nil

	case AuthAgent:
		env := d.opts.AgentSocketEnv
		sock := d.opts.Getenv(env)
		if sock == "" {
			return nil, nil, apperrors.ErrAuthenticationFailure.WithMessage(env + " environment variable is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, nil, apperrors.ErrAuthenticationFailure.
				WithMessage("cannot connect to SSH agent at " + sock).
				WithInternal(err)
		}
		client := agent.NewClient(conn)
		return []gossh.AuthMethod{gossh.PublicKeysCallback(client.Signers)}, conn, nil

	default:
		return nil, nil, apperrors.ErrAuthenticationFailure.WithMessage(fmt.Sprintf("unsupported auth method %q", target.AuthMethod))
	}
}

func (d *Dialer) loadSigner(target Target) (gossh.Signer, error) {
	keyPath, err := d.privateKeyPath(target.PrivateKeyPath)
	if err != nil {
		return nil, apperrors.ErrAuthenticationFailure.WithMessage("cannot resolve private key path").WithInternal(err)
	}

	data, err := d.opts.ReadFile(keyPath)
	if err != nil {
		return nil, apperrors.ErrAuthenticationFailure.
			WithMessage("cannot read private key at " + keyPath).
			WithInternal(err)
	}

	var signer gossh.Signer
	if target.Passphrase != "" {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(data, []byte(target.Passphrase))
	} else {
		signer, err = gossh.ParsePrivateKey(data)
	}
	if err != nil {
		var missing *gossh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, apperrors.ErrAuthenticationFailure.
				WithMessage("private key at " + keyPath + " is encrypted and no passphrase was supplied")
		}
		return nil, apperrors.ErrAuthenticationFailure.
			WithMessage("cannot parse private key at " + keyPath).
			WithInternal(err)
	}
	return signer, nil
}

// privateKeyPath resolves an explicit, configured or default (~/.ssh/id_rsa) key path.
func (d *Dialer) privateKeyPath(explicit string) (string, error) {
	keyPath := strings.TrimSpace(explicit)
	if keyPath == "" {
		keyPath = strings.TrimSpace(d.opts.DefaultKeyPath)
	}
	if keyPath != "" && keyPath != "~" && !strings.HasPrefix(keyPath, "~/") {
		return keyPath, nil
	}

	home, err := d.opts.HomeDir()
	if err != nil {
		return "", err
	}
	switch {
	case keyPath == "":
		return filepath.Join(home, ".ssh", "id_rsa"), nil
	case keyPath == "~":
		return home, nil
	default:
		return filepath.Join(home, keyPath[2:]), nil
	}
}

func (d *Dialer) hostKeyCallback() (gossh.HostKeyCallback, error) {
	path := strings.TrimSpace(d.opts.KnownHostsPath)
	if path == "" {
		return gossh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, apperrors.ErrHandshakeFailure.WithMessage("load known_hosts " + path).WithInternal(err)
	}
	return cb, nil
}

func defaultHomeDir() (string, error) {
	return os.UserHomeDir()
}
