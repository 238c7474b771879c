package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/serroba/driftquota/internal/config"
	"github.com/serroba/driftquota/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
keyPrefix: rl
hashLength: 8
hashAlgorithm: xxh64
actions:
  login:
    max: 5
    period: 1h
  upload:
    max: 100
    period: "86400"
`

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	t.Run("reads actions and key settings", func(t *testing.T) {
		t.Parallel()

		loaded, err := config.ParsePolicy([]byte(samplePolicy))
		require.NoError(t, err)

		assert.Equal(t, quota.KeyDeriver{Prefix: "rl", HashLength: 8, Algorithm: quota.HashXXH64}, loaded.Keys)
		assert.Equal(t, []string{"login", "upload"}, loaded.Policy.Actions())

		rule, err := loaded.Policy.Rule("upload")
		require.NoError(t, err)
		assert.Equal(t, quota.Rule{Max: 100, Period: 24 * time.Hour}, rule)
	})

	t.Run("defaults key settings", func(t *testing.T) {
		t.Parallel()

		loaded, err := config.ParsePolicy([]byte("actions:\n  login: {max: 1, period: 60}\n"))
		require.NoError(t, err)

		assert.Equal(t, quota.DefaultKeyDeriver(), loaded.Keys)

		rule, err := loaded.Policy.Rule("login")
		require.NoError(t, err)
		assert.Equal(t, time.Minute, rule.Period)
	})

	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{name: "missing period", yaml: "actions:\n  login: {max: 1}\n", wantErr: quota.ErrPeriodRequired},
		{name: "bad period", yaml: "actions:\n  login: {max: 1, period: soon}\n", wantErr: quota.ErrPeriodRequired},
		{name: "fractional period", yaml: "actions:\n  login: {max: 1, period: 1500ms}\n", wantErr: quota.ErrPeriodRequired},
		{name: "negative max", yaml: "actions:\n  login: {max: -1, period: 1m}\n", wantErr: quota.ErrMaxRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.ParsePolicy([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("unknown hash algorithm", func(t *testing.T) {
		t.Parallel()

		_, err := config.ParsePolicy([]byte("hashAlgorithm: sha1\n"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()

		_, err := config.ParsePolicy([]byte("actions: [\n"))
		assert.ErrorContains(t, err, "parse policy")
	})
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))

	loaded, err := config.LoadPolicy(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Policy.Actions(), 2)

	_, err = config.LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read policy")
}
