package proof

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Artifact is the outcome of one successful proof generation.
type Artifact struct {
	ID           string         `json:"id"`
	SocialID     string         `json:"socialId"`
	Account      string         `json:"account"`
	Proof        string         `json:"proof"`
	PublicInputs map[string]any `json:"publicInputs"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// PublicInput is one rendered public input.
type PublicInput struct {
	Key   string
	Value string
}

// FormatPublicInputs renders the public inputs sorted by key. Strings are
// shown verbatim, everything else as JSON.
func (a *Artifact) FormatPublicInputs() []PublicInput {
	keys := make([]string, 0, len(a.PublicInputs))
	for k := range a.PublicInputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]PublicInput, 0, len(keys))
	for _, k := range keys {
		out = append(out, PublicInput{Key: k, Value: formatValue(a.PublicInputs[k])})
	}
	return out
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// WriteFile writes the artifact as indented JSON to dir/<id>.json and
// returns the path.
func (a *Artifact) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}
	path := filepath.Join(dir, a.ID+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
