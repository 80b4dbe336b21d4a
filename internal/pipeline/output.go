package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	GraphFile = "graph.json"
	StatsFile = "stats.json"
)

// WriteOutput writes the merged graph and run statistics into dir.
func WriteOutput(dir string, res *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, GraphFile), res.Graph); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, StatsFile), res.Stats)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
