// Package validation checks the files a run depends on before any request
// is spent, so a missing input fails fast instead of after discovery.
package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "ipocli/internal/errors"
)

// FileValidator provides preflight checks for collector inputs and outputs
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{logger: logger.With("component", "file_validator")}
}

// ValidateFile checks that path is a readable, non-empty regular file
func (v *FileValidator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return apperrors.NewConfigError(fmt.Sprintf("file %s does not exist", path), err)
	}
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("failed to stat %s", path), err)
	}
	if info.IsDir() {
		return apperrors.NewConfigError(fmt.Sprintf("%s is a directory", path), nil)
	}
	if info.Size() == 0 {
		return apperrors.NewConfigError(fmt.Sprintf("file %s is empty", path), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("file %s is not readable", path), err)
	}
	f.Close()

	v.logger.Debug("file validated", slog.String("path", path), slog.Int64("size", info.Size()))
	return nil
}

// ValidateCSVFile checks that path is a readable CSV file
func (v *FileValidator) ValidateCSVFile(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return apperrors.NewConfigError(fmt.Sprintf("%s is not a .csv file", path), nil)
	}
	return v.ValidateFile(path)
}

// ValidateOutputDirectory ensures dir exists and accepts new files
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to create output directory %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		v.logger.Error("output directory not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("output directory %s is not writable", dir), err)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return nil
}

// Inputs names the files one collection depends on. Empty fields are skipped.
type Inputs struct {
	EntitiesFile    string
	OutputDir       string
	CredentialsFile string
}

// Preflight validates every named input and returns the first failure
func (v *FileValidator) Preflight(in Inputs) error {
	if in.EntitiesFile != "" {
		if err := v.ValidateCSVFile(in.EntitiesFile); err != nil {
			return err
		}
	}
	if in.OutputDir != "" {
		if err := v.ValidateOutputDirectory(in.OutputDir); err != nil {
			return err
		}
	}
	if in.CredentialsFile != "" {
		if err := v.ValidateFile(in.CredentialsFile); err != nil {
			return err
		}
	}
	return nil
}
