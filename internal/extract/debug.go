package extract

import (
	"fmt"
	"os"
	"path/filepath"
)

// DebugWriter saves prompts and raw responses, one file each per chunk and phase.
// A nil *DebugWriter discards everything.
type DebugWriter struct {
	dir string
}

// NewDebugWriter creates dir if needed. An empty dir returns nil.
func NewDebugWriter(dir string) (*DebugWriter, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug directory: %w", err)
	}
	return &DebugWriter{dir: dir}, nil
}

// Dir returns the target directory.
func (w *DebugWriter) Dir() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Write stores {chunk}_{phase}_prompt.txt and {chunk}_{phase}_response.txt.
// Files are distinct per chunk, so concurrent workers never share one.
func (w *DebugWriter) Write(chunkID, phase, prompt, response string) error {
	if w == nil {
		return nil
	}
	base := filepath.Join(w.dir, chunkID+"_"+phase)
	if err := os.WriteFile(base+"_prompt.txt", []byte(prompt), 0o644); err != nil {
		return fmt.Errorf("write debug prompt: %w", err)
	}
	if err := os.WriteFile(base+"_response.txt", []byte(response), 0o644); err != nil {
		return fmt.Errorf("write debug response: %w", err)
	}
	return nil
}
