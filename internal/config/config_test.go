package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

const basicConfig = `
global:
  concurrency: 3
  update_mode: pull
  default_account: work
providers:
  work:
    kind: azuredevops
    base_url: https://dev.azure.com/acme
    pat: secret-pat
  oss:
    kind: github
    token: ghp_sometoken
`

func TestLoadBasic(t *testing.T) {
	path := writeConfig(t, basicConfig, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Global.Concurrency)
	assert.Equal(t, "pull", cfg.Global.UpdateMode)
	assert.Equal(t, "work", cfg.Global.DefaultAccount)
	assert.Equal(t, 600, cfg.Global.CloneTimeoutSeconds, "default applies")
	assert.Len(t, cfg.Providers, 2)
	assert.Equal(t, "secret-pat", cfg.Providers["work"].PAT)
}

func TestLoadRefusesPermissiveFile(t *testing.T) {
	path := writeConfig(t, basicConfig, 0o644)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrConfig))
	assert.Contains(t, err.Error(), "0644")
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrConfig))
}

func TestInterpolation(t *testing.T) {
	t.Setenv("TEST_MGIT_PAT", "expanded-secret")
	path := writeConfig(t, `
providers:
  work:
    kind: azuredevops
    base_url: https://dev.azure.com/acme
    pat: ${TEST_MGIT_PAT}
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-secret", cfg.Providers["work"].PAT)
}

func TestEnvOverrides(t *testing.T) {
	cfg := &Config{
		Providers: map[string]AccountConfig{
			"work": {Kind: "azuredevops", BaseURL: "https://dev.azure.com/acme", PAT: "from-file"},
			"oss":  {Kind: "github", Token: "from-file"},
			"bb":   {Kind: "bitbucket", Username: "u", AppPassword: "from-file"},
		},
	}

	env := map[string]string{
		"AZURE_DEVOPS_EXT_PAT":   "legacy-pat",
		"MGIT_GITHUB_TOKEN":      "env-token",
		"GITHUB_TOKEN":           "legacy-token",
		"BITBUCKET_APP_PASSWORD": "legacy-app-pw",
	}
	cfg.applyEnvOverrides(func(name string) string { return env[name] })

	assert.Equal(t, "legacy-pat", cfg.Providers["work"].PAT)
	// MGIT_-prefixed names win over legacy ones.
	assert.Equal(t, "env-token", cfg.Providers["oss"].Token)
	assert.Equal(t, "legacy-app-pw", cfg.Providers["bb"].AppPassword)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Global.Concurrency = 0 },
			wantErr: "concurrency",
		},
		{
			name:    "bad update mode",
			mutate:  func(c *Config) { c.Global.UpdateMode = "merge" },
			wantErr: "update_mode",
		},
		{
			name:    "unknown default account",
			mutate:  func(c *Config) { c.Global.DefaultAccount = "ghost" },
			wantErr: "default_account",
		},
		{
			name: "azuredevops missing pat",
			mutate: func(c *Config) {
				c.Providers["work"] = AccountConfig{Kind: "azuredevops", BaseURL: "https://dev.azure.com/a"}
			},
			wantErr: "pat",
		},
		{
			name: "github missing token",
			mutate: func(c *Config) {
				c.Providers["work"] = AccountConfig{Kind: "github"}
			},
			wantErr: "token",
		},
		{
			name: "bitbucket missing app password",
			mutate: func(c *Config) {
				c.Providers["work"] = AccountConfig{Kind: "bitbucket", Username: "u"}
			},
			wantErr: "app_password",
		},
		{
			name: "unknown kind",
			mutate: func(c *Config) {
				c.Providers["work"] = AccountConfig{Kind: "gitlab"}
			},
			wantErr: "unknown provider kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Global: GlobalConfig{Concurrency: 5, UpdateMode: "skip"},
				Providers: map[string]AccountConfig{
					"work": {Kind: "azuredevops", BaseURL: "https://dev.azure.com/a", PAT: "p"},
				},
			}
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, provider.ErrConfig) || errors.Is(err, provider.ErrInvalidArgument))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAccountResolution(t *testing.T) {
	cfg := &Config{
		Global: GlobalConfig{DefaultAccount: "work"},
		Providers: map[string]AccountConfig{
			"work": {Kind: "azuredevops"},
			"oss":  {Kind: "github"},
		},
	}

	name, _, err := cfg.Account("")
	require.NoError(t, err)
	assert.Equal(t, "work", name, "default account wins when unnamed")

	name, _, err = cfg.Account("oss")
	require.NoError(t, err)
	assert.Equal(t, "oss", name)

	_, _, err = cfg.Account("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrInvalidArgument))

	solo := &Config{Providers: map[string]AccountConfig{"only": {Kind: "github"}}}
	name, _, err = solo.Account("")
	require.NoError(t, err)
	assert.Equal(t, "only", name, "sole account is implicit")

	none := &Config{Providers: map[string]AccountConfig{}}
	_, _, err = none.Account("")
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := &Config{
		Global: GlobalConfig{
			Concurrency:         7,
			UpdateMode:          "pull",
			DefaultAccount:      "work",
			CloneTimeoutSeconds: 300,
			HTTPTimeoutSeconds:  15,
		},
		Providers: map[string]AccountConfig{
			"work": {Kind: "azuredevops", BaseURL: "https://dev.azure.com/acme", PAT: "p"},
		},
	}

	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Global, loaded.Global)
	got := loaded.Providers["work"]
	assert.Equal(t, "azuredevops", got.Kind)
	assert.Equal(t, "https://dev.azure.com/acme", got.BaseURL)
	assert.Equal(t, "p", got.PAT)
}

func TestSavePreservesCredentialReferences(t *testing.T) {
	t.Setenv("TEST_MGIT_SAVE_PAT", "live-secret-pat")
	t.Setenv("BITBUCKET_APP_PASSWORD", "env-only-app-pw")
	path := writeConfig(t, `
providers:
  work:
    kind: azuredevops
    base_url: https://dev.azure.com/acme
    pat: ${TEST_MGIT_SAVE_PAT}
  bb:
    kind: bitbucket
    username: dev
    app_password: file-app-pw
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "live-secret-pat", cfg.Providers["work"].PAT)
	require.Equal(t, "env-only-app-pw", cfg.Providers["bb"].AppPassword)

	out := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(cfg, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	// The reference survives; neither resolved secret lands on disk.
	assert.Contains(t, string(data), "${TEST_MGIT_SAVE_PAT}")
	assert.NotContains(t, string(data), "live-secret-pat")
	assert.Contains(t, string(data), "file-app-pw")
	assert.NotContains(t, string(data), "env-only-app-pw")
}

func TestParseUpdateMode(t *testing.T) {
	for _, ok := range []string{"skip", "pull", "force", "SKIP", "Pull"} {
		if _, err := ParseUpdateMode(ok); err != nil {
			t.Errorf("ParseUpdateMode(%q): %v", ok, err)
		}
	}
	if _, err := ParseUpdateMode("merge"); err == nil {
		t.Error("ParseUpdateMode(\"merge\") succeeded, want error")
	}
}
