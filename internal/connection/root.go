package connection

import (
	"path"
	"strings"

	"github.com/charlesng35/sessionlens/internal/filesystem"
)

// DefaultProjectsDir is the per-user directory holding session transcripts.
const DefaultProjectsDir = ".claude/projects"

// dataRootCandidates lists the probe order: Linux home, macOS home, then root.
func dataRootCandidates(username, projectsDir string) []string {
	projectsDir = strings.Trim(projectsDir, "/")
	if projectsDir == "" {
		projectsDir = DefaultProjectsDir
	}
	return []string{
		path.Join("/home", username, projectsDir),
		path.Join("/Users", username, projectsDir),
		path.Join("/root", projectsDir),
	}
}

// resolveDataRoot returns the first candidate that exists on provider, or the
// first candidate when none does. It never fails.
func resolveDataRoot(provider filesystem.Provider, username, projectsDir string) string {
	candidates := dataRootCandidates(username, projectsDir)
	for _, candidate := range candidates {
		if provider.Exists(candidate) {
			return candidate
		}
	}
	return candidates[0]
}
