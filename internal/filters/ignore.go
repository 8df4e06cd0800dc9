// Package filters decides which relative datasite paths the sync engine
// should ignore or treat as priority (fast-path) candidates, and which
// paths carry a conflict/rejected marker.
package filters

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnoreLines = []string{
	"syftignore",
	"**/*.conflict.*",
	"**/*.rejected.*",
	"**/*syftconflict*",
	"**/*syftrejected*",
	"**/.*.tmp-*",
	"**/*.tmp-*",
	".data/",
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	".vscode",
	".idea",
	".git",
	"*.tmp",
	"*.log",
	".DS_Store",
	"Thumbs.db",
}

// Ignore matches relative datasite paths against the fixed default list
// plus an optional user-provided syftignore file.
type Ignore struct {
	baseDir string
	match   *gitignore.GitIgnore
}

// NewIgnore builds the ignore matcher, reading baseDir/syftignore if present.
func NewIgnore(baseDir string) *Ignore {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(baseDir, "syftignore")
	if custom, err := readLines(ignorePath); err == nil && len(custom) > 0 {
		lines = append(lines, custom...)
		slog.Info("loaded syftignore", "path", ignorePath, "rules", len(custom))
	} else if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read syftignore", "path", ignorePath, "error", err)
	}

	return &Ignore{baseDir: baseDir, match: gitignore.CompileIgnoreLines(lines...)}
}

// ShouldIgnore reports whether relPath (relative to baseDir, or absolute
// under it) should be excluded from sync.
func (i *Ignore) ShouldIgnore(relPath string) bool {
	rel := relPath
	if filepath.IsAbs(relPath) {
		r, err := filepath.Rel(i.baseDir, relPath)
		if err != nil {
			return false
		}
		rel = r
	}
	return i.match.MatchesPath(rel)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
