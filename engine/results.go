// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/Foxerine/vein-based-iov-simulator/lib/archive"
)

// manifestName is the results inventory written next to the staged
// files.
const manifestName = "manifest.yaml"

// Manifest inventories one session's staged results for the platform.
type Manifest struct {
	SessionID  string         `yaml:"session_id"`
	ConfigName string         `yaml:"config_name,omitempty"`
	ExitCode   int            `yaml:"exit_code"`
	CreatedAt  string         `yaml:"created_at"`
	Files      []ManifestFile `yaml:"files"`
}

// ManifestFile describes one staged file.
type ManifestFile struct {
	// Name is the path relative to the results mount.
	Name string `yaml:"name"`

	// Size is the file size in bytes.
	Size int64 `yaml:"size"`

	// Digest is the BLAKE3 content digest, prefixed with the
	// algorithm name.
	Digest string `yaml:"digest"`
}

// Stage moves the engine's result tree into the results mount, writes
// the manifest, and closes and archives the session log. Per-entry
// failures are logged and skipped so one bad file never strands the
// rest; every failure still surfaces in the returned error, which the
// caller converts to a failed session only when the engine itself
// succeeded.
func (r *Runner) Stage(sessionID, configName string, exitCode int) error {
	var faults []error

	staged, err := r.moveResults()
	if err != nil {
		faults = append(faults, err)
	}

	manifest, err := r.buildManifest(sessionID, configName, exitCode, staged)
	if err != nil {
		faults = append(faults, err)
	}
	if err := r.writeManifest(manifest); err != nil {
		faults = append(faults, err)
	}

	r.log.Note("session finished with exit code %d", exitCode)
	if err := r.log.Close(); err != nil {
		faults = append(faults, err)
	}
	if err := r.archiveLog(); err != nil {
		faults = append(faults, err)
	}

	return errors.Join(faults...)
}

// moveResults relocates the top-level entries of the engine's result
// directory into the results mount. Rename first; the copy fallback
// covers the usual case of the two mounts being different filesystems.
// The source directory is removed only after every entry moved — a
// partial failure keeps the stragglers in place for inspection.
func (r *Runner) moveResults() ([]string, error) {
	source := filepath.Join(r.cfg.Paths.Project, "results")
	entries, err := os.ReadDir(source)
	if errors.Is(err, os.ErrNotExist) {
		r.log.Note("no result directory at %s", source)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading result directory %s: %w", source, err)
	}

	r.log.Note("staging results from %s", source)
	var moved []string
	var faults []error
	for _, entry := range entries {
		name := entry.Name()
		if err := moveEntry(filepath.Join(source, name), filepath.Join(r.cfg.Paths.Results, name)); err != nil {
			r.log.Note("  move failed %s: %v", name, err)
			r.logger.Warn("result move failed", "name", name, "error", err)
			faults = append(faults, fmt.Errorf("moving %s: %w", name, err))
			continue
		}
		moved = append(moved, name)
		r.log.Note("  moved %s", name)
	}

	if len(faults) == 0 {
		if err := os.RemoveAll(source); err != nil {
			r.logger.Warn("result directory cleanup failed", "path", source, "error", err)
		}
	}
	return moved, errors.Join(faults...)
}

// moveEntry renames src to dst, falling back to copy-and-remove when
// rename fails (cross-device moves, most commonly).
func moveEntry(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// copyTree copies a file or directory tree, preserving file modes.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, relative)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fileInfo, err := entry.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, fileInfo.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return err
	}
	return destination.Close()
}

// buildManifest digests every file under the staged entries. Files
// that cannot be read are skipped and reported rather than sinking the
// whole manifest.
func (r *Runner) buildManifest(sessionID, configName string, exitCode int, staged []string) (Manifest, error) {
	manifest := Manifest{
		SessionID:  sessionID,
		ConfigName: configName,
		ExitCode:   exitCode,
		CreatedAt:  r.clock.Now().UTC().Format(time.RFC3339),
	}

	var faults []error
	for _, name := range staged {
		walkErr := filepath.WalkDir(filepath.Join(r.cfg.Paths.Results, name), func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				return err
			}
			digest, err := digestFile(path)
			if err != nil {
				return err
			}
			relative, err := filepath.Rel(r.cfg.Paths.Results, path)
			if err != nil {
				return err
			}
			manifest.Files = append(manifest.Files, ManifestFile{
				Name:   relative,
				Size:   info.Size(),
				Digest: digest,
			})
			return nil
		})
		if walkErr != nil {
			faults = append(faults, fmt.Errorf("inventorying %s: %w", name, walkErr))
		}
	}
	return manifest, errors.Join(faults...)
}

func (r *Runner) writeManifest(manifest Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	path := filepath.Join(r.cfg.Paths.Results, manifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	r.logger.Info("manifest written", "path", path, "files", len(manifest.Files))
	return nil
}

// archiveLog writes the compressed sibling of the session log. The
// raw log stays in place for the platform to read back.
func (r *Runner) archiveLog() error {
	codec, err := archive.ParseCodec(r.cfg.Results.Compression)
	if err != nil {
		return err
	}
	archived, err := archive.ArchiveFile(r.log.Path(), codec)
	if err != nil {
		return err
	}
	if archived != "" {
		r.logger.Info("session log archived", "path", archived)
	}
	return nil
}

// digestFile streams path through BLAKE3.
func digestFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return "blake3:" + hex.EncodeToString(hasher.Sum(nil)), nil
}
