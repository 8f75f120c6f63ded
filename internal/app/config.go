package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the session browser core.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	SSH    SSHConfig    `mapstructure:"ssh"`
	Remote RemoteConfig `mapstructure:"remote"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SSHConfig controls how remote sessions are established.
type SSHConfig struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	DefaultKeyPath string        `mapstructure:"default_key_path"`
	AgentSocketEnv string        `mapstructure:"agent_socket_env"`
	KnownHostsPath string        `mapstructure:"known_hosts_path"`
	MaxPacket      int           `mapstructure:"max_packet"`
}

// RemoteConfig describes where transcripts live on remote hosts.
type RemoteConfig struct {
	ProjectsDir string `mapstructure:"projects_dir"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("sessionlens")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SESSIONLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ssh.dial_timeout", "10s")
	v.SetDefault("ssh.default_key_path", "")
	v.SetDefault("ssh.agent_socket_env", "SSH_AUTH_SOCK")
	v.SetDefault("ssh.known_hosts_path", "")
	v.SetDefault("ssh.max_packet", 32768)

	v.SetDefault("remote.projects_dir", ".claude/projects")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
