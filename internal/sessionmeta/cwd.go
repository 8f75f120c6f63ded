// Package sessionmeta reads metadata out of JSONL session transcripts through
// whichever filesystem backend the caller supplies.
package sessionmeta

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/charlesng35/sessionlens/internal/filesystem"
	"github.com/charlesng35/sessionlens/pkg/logger"
)

type entry struct {
	Cwd string `json:"cwd"`
}

// ExtractCwd returns the working directory recorded by the first transcript
// entry that carries one. Missing files, unreadable streams and malformed
// lines all yield ("", false); the latter two are logged.
func ExtractCwd(provider filesystem.Provider, path string) (string, bool) {
	if provider == nil || !provider.Exists(path) {
		return "", false
	}

	stream := provider.OpenReadStream(path, filesystem.ReadStreamOptions{Encoding: filesystem.EncodingUTF8})
	defer stream.Close()

	log := logger.WithModule("sessionmeta")
	reader := bufio.NewReader(stream)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var e entry
			if err := json.Unmarshal(line, &e); err != nil {
				log.Error("extract cwd", zap.String("path", path), zap.Error(err))
				return "", false
			}
			if e.Cwd != "" {
				return e.Cwd, true
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				log.Error("extract cwd", zap.String("path", path), zap.Error(readErr))
			}
			return "", false
		}
	}
}
