package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sandbox confines all media file operations to the worker temp directory.
// Every job gets its own workspace under the base, and cleanup helpers
// refuse to touch anything that resolves outside the base.
type Sandbox struct {
	baseDir string
}

// NewSandbox roots a sandbox at baseDir, creating it when missing.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("media: resolving temp dir: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("media: creating temp dir: %w", err)
	}
	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute sandbox root.
func (s *Sandbox) BaseDir() string { return s.baseDir }

// resolve joins a relative path onto the base and rejects escapes.
func (s *Sandbox) resolve(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("media: path escapes sandbox: %s", relativePath)
	}
	full := filepath.Join(s.baseDir, filepath.Clean(relativePath))
	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("media: path escapes sandbox: %s", relativePath)
	}
	return full, nil
}

// JobDir creates and returns the per-job workspace.
func (s *Sandbox) JobDir(jobID string) (string, error) {
	dir, err := s.resolve(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("media: creating job dir: %w", err)
	}
	return dir, nil
}

// FramesDir creates and returns the frame output directory for a job.
func (s *Sandbox) FramesDir(jobID string) (string, error) {
	dir, err := s.resolve(filepath.Join(jobID, "frames"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("media: creating frames dir: %w", err)
	}
	return dir, nil
}

// InputPath returns the download target for a job's source file.
func (s *Sandbox) InputPath(jobID, ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "mp4"
	}
	return s.resolve(filepath.Join(jobID, "input."+ext))
}

// AudioPath returns the extracted-audio location for a job.
func (s *Sandbox) AudioPath(jobID string) (string, error) {
	return s.resolve(filepath.Join(jobID, "audio.wav"))
}

// ChunkPath returns the location of one audio chunk.
func (s *Sandbox) ChunkPath(jobID string, index int) (string, error) {
	return s.resolve(filepath.Join(jobID, fmt.Sprintf("audio_chunk_%03d.wav", index)))
}

// CreateFile opens a file for writing inside the sandbox, creating parent
// directories as needed.
func (s *Sandbox) CreateFile(relativePath string) (*os.File, error) {
	path, err := s.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("media: creating parent dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("media: creating file: %w", err)
	}
	return f, nil
}

// Cleanup removes a job's entire workspace. Refuses to remove the base
// directory itself.
func (s *Sandbox) Cleanup(jobID string) error {
	if jobID == "" || jobID == "." {
		return fmt.Errorf("media: refusing to clean sandbox root")
	}
	dir, err := s.resolve(jobID)
	if err != nil {
		return err
	}
	if dir == s.baseDir {
		return fmt.Errorf("media: refusing to clean sandbox root")
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("media: cleaning job dir: %w", err)
	}
	return nil
}

// SweepOrphans removes job workspaces older than maxAge whose job id is
// not in the active set. Used by the maintenance sweep to reclaim space
// after crashes.
func (s *Sandbox) SweepOrphans(maxAge time.Duration, active map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("media: scanning temp dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || active[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := s.Cleanup(entry.Name()); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
