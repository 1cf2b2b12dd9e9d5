package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/provider"
)

func testCfg() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{Concurrency: 5, UpdateMode: "skip"},
		Providers: map[string]config.AccountConfig{
			"work": {Kind: "azuredevops", BaseURL: "https://dev.azure.com/acme", PAT: "p"},
		},
	}
}

func TestApplySetGlobals(t *testing.T) {
	cfg := testCfg()

	require.NoError(t, applySet(cfg, "global.concurrency", "10"))
	assert.Equal(t, 10, cfg.Global.Concurrency)

	require.NoError(t, applySet(cfg, "global.update_mode", "pull"))
	assert.Equal(t, "pull", cfg.Global.UpdateMode)

	require.NoError(t, applySet(cfg, "global.default_account", "work"))
	assert.Equal(t, "work", cfg.Global.DefaultAccount)

	require.NoError(t, applySet(cfg, "global.clone_timeout_seconds", "120"))
	assert.Equal(t, 120, cfg.Global.CloneTimeoutSeconds)
}

func TestApplySetProviderDefaults(t *testing.T) {
	cfg := testCfg()

	require.NoError(t, applySet(cfg, "providers.work.default_org", "acme"))
	assert.Equal(t, "acme", cfg.Providers["work"].DefaultOrg)

	require.NoError(t, applySet(cfg, "providers.work.default_project", "Pay"))
	assert.Equal(t, "Pay", cfg.Providers["work"].DefaultProject)
}

func TestApplySetRejects(t *testing.T) {
	cfg := testCfg()

	bad := [][2]string{
		{"global.concurrency", "zero"},
		{"global.concurrency", "0"},
		{"global.update_mode", "merge"},
		{"global.default_account", "ghost"},
		{"providers.ghost.default_org", "x"},
		{"providers.work.pat", "secret"}, // credentials go through login
		{"nonsense", "x"},
		{"providers.work", "x"},
	}
	for _, kv := range bad {
		err := applySet(cfg, kv[0], kv[1])
		require.Error(t, err, kv[0])
		assert.True(t, errors.Is(err, provider.ErrInvalidArgument) || errors.Is(err, provider.ErrConfig), kv[0])
	}
}

func TestRedactCredential(t *testing.T) {
	assert.Equal(t, "****", redactCredential("abc"))
	assert.Equal(t, "********6789", redactCredential("ghp_0123456789"))
}
