package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, 2*time.Second, cfg.SyncWindow)
	assert.Equal(t, 5*time.Second, cfg.TxMaxWait)
	assert.Equal(t, 20*time.Second, cfg.TxTimeout)
	assert.Len(t, cfg.SigningSecret, 32)
	assert.False(t, cfg.S3Enabled())
	assert.False(t, cfg.SMTPEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOKEY_ADDRESS", ":9000")
	t.Setenv("DOKEY_PUBLIC_URL", "https://sign.example.com/")
	t.Setenv("DOKEY_SIGNING_SECRET", "s3cret")
	t.Setenv("DOKEY_SYNC_WINDOW", "500ms")
	t.Setenv("DOKEY_TX_TIMEOUT", "not-a-duration")
	t.Setenv("DOKEY_REQUIRE_SIGNED_LINKS", "true")
	t.Setenv("DOKEY_MAX_UPLOAD_BYTES", "-1")
	t.Setenv("DOKEY_S3_ENDPOINT", "localhost:9000")
	t.Setenv("DOKEY_S3_ACCESS_KEY", "minio")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Address)
	assert.Equal(t, "https://sign.example.com", cfg.PublicURL)
	assert.Equal(t, []byte("s3cret"), cfg.SigningSecret)
	assert.Equal(t, 500*time.Millisecond, cfg.SyncWindow)
	assert.Equal(t, 20*time.Second, cfg.TxTimeout)
	assert.True(t, cfg.RequireSignedLinks)
	assert.EqualValues(t, 25<<20, cfg.MaxUploadBytes)
	assert.True(t, cfg.S3Enabled())
}
