package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includeLoader overlays included files onto a config. Typical use is a
// per-board pin map kept beside a shared network file.
type includeLoader struct {
	visited map[string]bool
}

// processIncludes merges the files named by cfg.Includes into cfg.
// baseDir is the directory of the file that declared them.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if visited == nil {
		visited = make(map[string]bool)
	}
	l := &includeLoader{visited: visited}
	return l.apply(cfg, baseDir, depth)
}

func (l *includeLoader) apply(cfg *Config, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := l.merge(cfg, p, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// merge overlays one file onto cfg and follows its own includes.
func (l *includeLoader) merge(cfg *Config, path string, depth int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config includes: abs path %q: %w", path, err)
	}
	if l.visited[abs] {
		return fmt.Errorf("config includes: circular include detected for %q", abs)
	}
	l.visited[abs] = true

	if err := validatePermissions(abs); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", abs, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", abs, err)
	}
	if len(cfg.Includes) == 0 {
		return nil
	}
	return l.apply(cfg, filepath.Dir(abs), depth)
}

// resolveIncludePaths expands pattern relative to baseDir. Paths that climb
// out of baseDir are rejected; a glob matching nothing yields no paths.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		// Literal path: let merge report the missing file.
		return []string{pattern}, nil
	}
	return matches, nil
}
