package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved locations of every file the collector persists
type Paths struct {
	DataDir        string
	CacheDir       string
	CheckpointFile string
	LastRunFile    string
	OutputDir      string
	SQLiteFile     string
}

// ResolvePaths turns the configured paths into absolute ones rooted at DataDir.
func (c *Config) ResolvePaths() (*Paths, error) {
	dataDir, err := filepath.Abs(c.Paths.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}

	under := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dataDir, p)
	}

	return &Paths{
		DataDir:        dataDir,
		CacheDir:       under(c.Paths.CacheDir),
		CheckpointFile: under(c.Paths.CheckpointFile),
		LastRunFile:    under(c.Paths.LastRunFile),
		OutputDir:      under(c.Paths.OutputDir),
		SQLiteFile:     under(c.Cache.SQLitePath),
	}, nil
}

// EnsureDirectories creates all required directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.DataDir,
		p.CacheDir,
		p.OutputDir,
		filepath.Dir(p.CheckpointFile),
		filepath.Dir(p.LastRunFile),
		filepath.Dir(p.SQLiteFile),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// OutputFile returns the path of an export file with the given extension.
func (p *Paths) OutputFile(baseName, ext string) string {
	return filepath.Join(p.OutputDir, baseName+"."+ext)
}
