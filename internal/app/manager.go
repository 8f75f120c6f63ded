package app

import (
	"github.com/charlesng35/sessionlens/internal/connection"
	"github.com/charlesng35/sessionlens/internal/filesystem"
	"github.com/charlesng35/sessionlens/internal/sshclient"
	"github.com/charlesng35/sessionlens/pkg/logger"
)

// NewConnectionManager wires the configured SSH dialer and the local backend
// into a connection manager.
func NewConnectionManager(cfg *Config) *connection.Manager {
	if cfg == nil {
		cfg = &Config{}
	}

	dialer := sshclient.NewDialer(sshclient.Options{
		Timeout:        cfg.SSH.DialTimeout,
		DefaultKeyPath: cfg.SSH.DefaultKeyPath,
		AgentSocketEnv: cfg.SSH.AgentSocketEnv,
		KnownHostsPath: cfg.SSH.KnownHostsPath,
		MaxPacket:      cfg.SSH.MaxPacket,
		Logger:         logger.WithModule("sshclient"),
	})

	return connection.NewManager(connection.Options{
		Dialer:      connection.SSHDialer(dialer),
		Local:       filesystem.NewLocal(),
		ProjectsDir: cfg.Remote.ProjectsDir,
		Logger:      logger.WithModule("connection"),
	})
}
