package loader

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// loadIgnorePatterns reads dir's .hdtignore file (one glob per line,
// `#`-prefixed lines and blank lines skipped). The file is subtractive
// only: it can never re-include something the default rules exclude
// (swagger-* files stay excluded no matter what).
func loadIgnorePatterns(dir string) ([]string, error) {
	path := filepath.Join(dir, ".hdtignore")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

// matchesIgnore reports whether name matches any configured glob pattern.
func matchesIgnore(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
