package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesOnlyMentionedFields(t *testing.T) {
	cfg, err := Load([]byte(`
local = false

[redis]
addr = "redis:6379"
db = 2
`))
	require.NoError(t, err)
	require.False(t, cfg.Local)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)
	require.Equal(t, 30*time.Second, cfg.HookTimeout)
	require.Equal(t, 2, cfg.RetryBudget)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	_, err := Load([]byte(`local = `))
	require.Error(t, err)
}

func TestValidateRequiresRedisAddrWhenNotLocal(t *testing.T) {
	cfg := Default()
	cfg.Local = false
	require.Error(t, cfg.Validate())

	cfg.Redis.Addr = "redis:6379"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveHookTimeout(t *testing.T) {
	cfg := Default()
	cfg.HookTimeout = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeRetryBudget(t *testing.T) {
	cfg := Default()
	cfg.RetryBudget = -1
	require.Error(t, cfg.Validate())
}
