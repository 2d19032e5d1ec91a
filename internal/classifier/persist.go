package classifier

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Save persists the trained forest as an opaque model artifact.
func Save(path string, f *Forest) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file %s: %w", path, err)
	}
	defer file.Close()
	if err := gob.NewEncoder(file).Encode(f); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Load reads a persisted model artifact.
func Load(path string) (*Forest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file %s: %w", path, err)
	}
	defer file.Close()
	var f Forest
	if err := gob.NewDecoder(file).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}
	return &f, nil
}
