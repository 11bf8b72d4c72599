package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/syncer"
)

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"kioku"}, "kioku"},
		{"multiple words", []string{"weekly", "review"}, "weekly review"},
		{"single quoted phrase", []string{"weekly review"}, "weekly review"},
		{"three words", []string{"machine", "learning", "algorithms"}, "machine learning algorithms"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
		{"one space", []string{" "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func writeVault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	notes := map[string]string{
		"alpha.md":         "---\nelysium_gist: quarterly planning for the garden\nelysium_type: project\n---\n",
		"beta.md":          "---\nelysium_gist: rust borrow checker notes\nelysium_tags: [rust]\n---\n",
		"journal/day.md":   "---\nelysium_gist: walked to the lake\n---\n",
		".obsidian/ws.md":  "---\nelysium_gist: hidden\n---\n",
		"drafts/readme.md": "no frontmatter here\n",
	}
	for name, content := range notes {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands_SyncSearchValidate(t *testing.T) {
	root := writeVault(t)

	out, err := run(t, "--vault", root, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "sync")

	out, err = run(t, "--vault", root, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	out, err = run(t, "--vault", root, "-o", "json", "search", "--mode", "keyword", "borrow", "checker")
	require.NoError(t, err)
	var resp struct {
		Results []struct {
			ID string `json:"path"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "beta.md", resp.Results[0].ID)

	out, err = run(t, "--vault", root, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "htp")
}

func TestCommands_Errors(t *testing.T) {
	_, err := run(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vault configured")

	_, err = run(t, "--vault", t.TempDir(), "-o", "yaml", "status")
	require.Error(t, err)

	_, err = run(t, "validate", t.TempDir())
	require.Error(t, err)
}

type countingRunner struct{ calls atomic.Int32 }

func (r *countingRunner) Sync(context.Context) (*syncer.Summary, error) {
	r.calls.Add(1)
	return &syncer.Summary{}, nil
}

func TestWatchVault_CatchUpPass(t *testing.T) {
	runner := &countingRunner{}
	q := syncer.NewQueue(runner, time.Hour)
	defer q.Close()

	w, err := watchVault(context.Background(), t.TempDir(), []string{".md"}, q, nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond,
		"a pass runs without any vault event")
}
