package anomaly

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// saveModel writes the model blob atomically: the previous blob stays
// readable until the new one is fully written and renamed into place.
func saveModel(path string, m *model) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("activate model: %w", err)
	}
	return nil
}

// loadModel reads a persisted blob and validates its feature schema.
// Any mismatch fails closed: the caller stays on the rule fallback rather
// than applying a model fitted on different features.
func loadModel(path string) (*model, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from configuration, not user input
	if err != nil {
		return nil, err
	}

	var m model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := checkSchema(m.FeatureNames); err != nil {
		return nil, err
	}
	if m.Scaler == nil || m.Forest == nil || len(m.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model blob incomplete")
	}
	return &m, nil
}

func checkSchema(names []string) error {
	if len(names) != len(FeatureNames) {
		return fmt.Errorf("feature schema mismatch: %d features, want %d", len(names), len(FeatureNames))
	}
	for i, name := range names {
		if name != FeatureNames[i] {
			return fmt.Errorf("feature schema mismatch at %d: %q, want %q", i, name, FeatureNames[i])
		}
	}
	return nil
}
