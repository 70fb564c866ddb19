package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/contributors/internal/errors"
	"github.com/rohankatakam/contributors/internal/models"
)

// Format is the serialization of the output file
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DefaultFileName is the output file name when no path is configured
const DefaultFileName = "contributors.json"

// ParseFormat validates a user-supplied format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", errors.ConfigErrorf("unknown output format %q (want json or yaml)", s)
	}
}

// Marshal renders records with 2-space indentation. An empty collection renders as [].
func Marshal(records []models.AggregatedContributor, format Format) ([]byte, error) {
	if records == nil {
		records = []models.AggregatedContributor{}
	}

	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
	}
}

// Write replaces the file at path with records. The new content is written to a
// temporary file in the same directory and renamed over path, so a failed write
// leaves any previous file untouched.
func Write(path string, records []models.AggregatedContributor, format Format) error {
	data, err := Marshal(records, format)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "serialize contributors")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.FileSystemErrorf(err, "create output directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.FileSystemErrorf(err, "create temporary file in %s", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.FileSystemErrorf(err, "write %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.FileSystemErrorf(err, "sync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return errors.FileSystemErrorf(err, "close %s", tmpPath)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return errors.FileSystemErrorf(err, "chmod %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.FileSystemErrorf(err, "replace %s", path)
	}

	return nil
}

// DefaultPath resolves ../contributors.json against the directory of the running
// executable. Binaries built by "go run" live in a temporary directory that is
// removed after the run, so for those the working directory is used instead.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.FileSystemError(err, "locate executable")
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.FileSystemError(err, "locate working directory")
	}
	return defaultPathFor(exe, os.TempDir(), wd), nil
}

func defaultPathFor(exe, tmpDir, wd string) string {
	exe = resolveSymlinks(exe)
	base := filepath.Dir(exe)
	if within(base, resolveSymlinks(tmpDir)) {
		base = wd
	}
	return filepath.Join(base, "..", DefaultFileName)
}

func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

// within reports whether path is dir or below it
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
