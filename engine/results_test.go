// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/Foxerine/vein-based-iov-simulator/lib/archive"
)

// writeResult drops a result file under the project's result
// directory, creating parents as needed.
func writeResult(t *testing.T, projectDir, relative, content string) {
	t.Helper()
	path := filepath.Join(projectDir, "results", relative)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readManifest(t *testing.T, resultsDir string) Manifest {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(resultsDir, manifestName))
	if err != nil {
		t.Fatal(err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("manifest does not parse: %v", err)
	}
	return manifest
}

func expectedDigest(content string) string {
	hasher := blake3.New()
	hasher.Write([]byte(content))
	return "blake3:" + hex.EncodeToString(hasher.Sum(nil))
}

func TestStageMovesAndManifests(t *testing.T) {
	runner, cfg := newTestRunner(t)
	writeResult(t, cfg.Paths.Project, "run1.vec", "vector data\n")
	writeResult(t, cfg.Paths.Project, "sub/run1.sca", "scalar data\n")

	if err := runner.Stage("sess-1", "Default", 0); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	for _, relative := range []string{"run1.vec", "sub/run1.sca"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.Results, relative)); err != nil {
			t.Errorf("staged file %s missing: %v", relative, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.Project, "results")); !os.IsNotExist(err) {
		t.Error("source result directory not removed after a clean stage")
	}

	manifest := readManifest(t, cfg.Paths.Results)
	if manifest.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", manifest.SessionID, "sess-1")
	}
	if manifest.ConfigName != "Default" {
		t.Errorf("ConfigName = %q, want %q", manifest.ConfigName, "Default")
	}
	if manifest.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", manifest.ExitCode)
	}
	if _, err := time.Parse(time.RFC3339, manifest.CreatedAt); err != nil {
		t.Errorf("CreatedAt %q is not RFC 3339: %v", manifest.CreatedAt, err)
	}
	if len(manifest.Files) != 2 {
		t.Fatalf("manifest files = %d, want 2: %+v", len(manifest.Files), manifest.Files)
	}

	byName := make(map[string]ManifestFile, len(manifest.Files))
	for _, file := range manifest.Files {
		byName[file.Name] = file
	}
	vector, ok := byName["run1.vec"]
	if !ok {
		t.Fatalf("run1.vec missing from manifest: %+v", manifest.Files)
	}
	if vector.Size != int64(len("vector data\n")) {
		t.Errorf("run1.vec size = %d, want %d", vector.Size, len("vector data\n"))
	}
	if vector.Digest != expectedDigest("vector data\n") {
		t.Errorf("run1.vec digest = %q, want %q", vector.Digest, expectedDigest("vector data\n"))
	}
	if _, ok := byName[filepath.Join("sub", "run1.sca")]; !ok {
		t.Errorf("nested result missing from manifest: %+v", manifest.Files)
	}
}

func TestStageArchivesSessionLog(t *testing.T) {
	runner, cfg := newTestRunner(t)
	runner.log.Note("archive marker line")

	if err := runner.Stage("sess-2", "", 0); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	archivedPath := filepath.Join(cfg.Paths.Results, cfg.Results.LogName+".zst")
	reader, codec, err := archive.OpenArchived(archivedPath)
	if err != nil {
		t.Fatalf("archived log unreadable: %v", err)
	}
	defer reader.Close()
	if codec != archive.CodecZstd {
		t.Errorf("codec = %v, want zstd", codec)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "archive marker line") {
		t.Error("archived log does not round-trip the session log content")
	}

	// The raw log stays for the platform to read back.
	if _, err := os.Stat(filepath.Join(cfg.Paths.Results, cfg.Results.LogName)); err != nil {
		t.Errorf("raw session log missing after archive: %v", err)
	}
}

func TestStageWithoutResultDirectory(t *testing.T) {
	runner, cfg := newTestRunner(t)

	if err := runner.Stage("sess-3", "", 2); err != nil {
		t.Fatalf("Stage failed with no result directory: %v", err)
	}

	manifest := readManifest(t, cfg.Paths.Results)
	if len(manifest.Files) != 0 {
		t.Errorf("manifest files = %+v, want none", manifest.Files)
	}
	if manifest.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want the engine's code recorded", manifest.ExitCode)
	}
}

func TestStageCodecNone(t *testing.T) {
	runner, cfg := newTestRunner(t)
	cfg.Results.Compression = "none"

	if err := runner.Stage("sess-4", "", 0); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.Results, cfg.Results.LogName+".zst")); !os.IsNotExist(err) {
		t.Error("archive written despite compression none")
	}
}

func TestStageContinuesPastUnmovableEntry(t *testing.T) {
	runner, cfg := newTestRunner(t)
	writeResult(t, cfg.Paths.Project, "good.vec", "good data\n")
	writeResult(t, cfg.Paths.Project, "bad", "blocked data\n")

	// A non-empty directory squatting on the destination name defeats
	// both the rename and the copy fallback for "bad".
	if err := os.MkdirAll(filepath.Join(cfg.Paths.Results, "bad", "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}

	err := runner.Stage("sess-5", "", 0)
	if err == nil {
		t.Fatal("Stage reported success despite an unmovable entry")
	}

	if _, statErr := os.Stat(filepath.Join(cfg.Paths.Results, "good.vec")); statErr != nil {
		t.Errorf("good entry not staged: %v", statErr)
	}
	// The straggler and its directory stay for inspection.
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.Project, "results", "bad")); statErr != nil {
		t.Errorf("failed entry removed from source: %v", statErr)
	}

	manifest := readManifest(t, cfg.Paths.Results)
	for _, file := range manifest.Files {
		if file.Name == "bad" {
			t.Errorf("unstaged entry in manifest: %+v", file)
		}
	}
}

func TestCopyTreePreservesContentAndMode(t *testing.T) {
	source := t.TempDir()
	destination := filepath.Join(t.TempDir(), "copied")

	if err := os.MkdirAll(filepath.Join(source, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "nested", "tool.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := copyTree(source, destination); err != nil {
		t.Fatalf("copyTree failed: %v", err)
	}

	copied := filepath.Join(destination, "nested", "tool.sh")
	content, err := os.ReadFile(copied)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "#!/bin/sh\n" {
		t.Errorf("copied content = %q", content)
	}
	info, err := os.Stat(copied)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("copied mode = %v, want 0755 preserved", info.Mode().Perm())
	}
}
