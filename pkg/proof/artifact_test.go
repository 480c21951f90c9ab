package proof

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatPublicInputs(t *testing.T) {
	a := &Artifact{PublicInputs: map[string]any{
		"handle":    "alice",
		"followers": 42,
		"verified":  true,
		"tags":      []string{"a", "b"},
		"extra":     nil,
	}}
	require.Equal(t, []PublicInput{
		{Key: "extra", Value: "null"},
		{Key: "followers", Value: "42"},
		{Key: "handle", Value: "alice"},
		{Key: "tags", Value: `["a","b"]`},
		{Key: "verified", Value: "true"},
	}, a.FormatPublicInputs())

	require.Empty(t, (&Artifact{}).FormatPublicInputs())
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	a := &Artifact{
		ID:           "proof-123",
		SocialID:     "alice",
		Account:      "0xabc",
		Proof:        "{\n  \"k\": 1\n}",
		PublicInputs: map[string]any{"handle": "alice"},
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	path, err := a.WriteFile(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "proof-123.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Artifact
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, *a, got)
}
