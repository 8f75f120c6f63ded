package app

import (
	"strings"

	"github.com/charlesng35/sessionlens/pkg/logger"
)

// ConfigureLogging initialises the global logger from cfg, defaulting to info.
func ConfigureLogging(cfg LogConfig) error {
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, cfg.Format)
}
