package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeJSON marshals v with indentation and writes it to path using atomic
// write (temp file + rename). what names the file in error messages.
func writeJSON(path string, v any, what string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", what, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %s file: %w", what, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp %s file: %w", what, err)
	}
	return nil
}

// readJSON unmarshals the file at path into v. It reports false without an
// error if the file does not exist.
func readJSON(path string, v any, what string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s file: %w", what, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return true, nil
}
