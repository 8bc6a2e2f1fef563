package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("DATABASE_DSN", "postgres://localhost/test")
	t.Setenv("GITHUB_REPOSITORIES", "octocat/hello-world")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxConcurrentActions)
	assert.Equal(t, 100, cfg.MaxActionsPerRun)
	assert.Equal(t, 0.80, cfg.MinConfidenceAutoClose)
	assert.Equal(t, 0.60, cfg.MinConfidenceAutoLabel)
	assert.Equal(t, 3, cfg.ActionMaxAttempts)
	assert.Equal(t, 2, cfg.BackoffBaseSeconds)
	assert.Equal(t, 60, cfg.BackoffCapSeconds)
	assert.Equal(t, 0.05, cfg.RateLimitSafetyReserve)
	assert.Equal(t, 1800, cfg.CycleDeadlineSeconds)
	assert.Equal(t, 60, cfg.HTTPTimeoutSeconds)
	assert.Equal(t, 24, cfg.FullScanWindowHours)
	assert.Equal(t, 15, cfg.AutoRollbackWindowMinutes)
	assert.Equal(t, []string{"octocat/hello-world"}, cfg.ParseRepositories())
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://localhost/test")
	t.Setenv("GITHUB_REPOSITORIES", "octocat/hello-world")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_RejectsBadRepositoryFormat(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("DATABASE_DSN", "postgres://localhost/test")
	t.Setenv("GITHUB_REPOSITORIES", "not-a-valid-repo")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesOverlay(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_from_env")
	t.Setenv("DATABASE_DSN", "postgres://localhost/test")
	t.Setenv("GITHUB_REPOSITORIES", "octocat/hello-world")

	overlay := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(overlay, []byte("github_token: from-overlay\n"), 0o600))

	cfg, err := Load(overlay)
	require.NoError(t, err)
	assert.Equal(t, "ghp_from_env", cfg.GitHubToken)
}

func TestNormalizeRepository(t *testing.T) {
	cases := map[string]string{
		"octocat/hello-world":                      "octocat/hello-world",
		"https://github.com/octocat/hello-world":   "octocat/hello-world",
		"https://github.com/octocat/hello-world/":  "octocat/hello-world",
		"https://github.com/octocat/hello-world.git": "octocat/hello-world",
		"git@github.com:octocat/hello-world.git":   "octocat/hello-world",
		"  OctoCat/Hello-World  ":                  "octocat/hello-world",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeRepository(input), "input=%q", input)
	}
}

func TestSplitRepository(t *testing.T) {
	owner, repo, ok := SplitRepository("octocat/hello-world")
	require.True(t, ok)
	assert.Equal(t, "octocat", owner)
	assert.Equal(t, "hello-world", repo)

	_, _, ok = SplitRepository("not-valid")
	assert.False(t, ok)
}

func TestConfig_Clone(t *testing.T) {
	cfg := &Config{GitHubToken: "a"}
	clone := cfg.Clone()
	clone.GitHubToken = "b"
	assert.Equal(t, "a", cfg.GitHubToken)
	assert.Equal(t, "b", clone.GitHubToken)
}
