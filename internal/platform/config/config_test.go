package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := fromLookup(lookup(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, BlobMemory, cfg.BlobDriver)
	assert.Equal(t, 7*24*time.Hour, cfg.SignedURLTTL)
	assert.Equal(t, 2, cfg.NotifyRetries)
	assert.False(t, cfg.AllowAllCapabilities)
}

func TestFromLookup_Values(t *testing.T) {
	cfg, err := fromLookup(lookup(map[string]string{
		"PORT":               "9090",
		"REDIS_ADDR":         "localhost:6379",
		"REDIS_DB":           "3",
		"BLOB_DRIVER":        "S3",
		"BLOB_S3_BUCKET":     "occ",
		"BLOB_S3_PATH_STYLE": "true",
		"SIGNED_URL_TTL":     "48h",
		"PUBLIC_BASE_URL":    "https://app.example.com/",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, BlobS3, cfg.BlobDriver)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, 48*time.Hour, cfg.SignedURLTTL)
	assert.Equal(t, "https://app.example.com", cfg.PublicBaseURL)
}

func TestFromLookup_Invalid(t *testing.T) {
	_, err := fromLookup(lookup(map[string]string{"REDIS_DB": "x"}))
	assert.ErrorContains(t, err, "REDIS_DB")

	_, err = fromLookup(lookup(map[string]string{"BLOB_DRIVER": "s3"}))
	assert.ErrorContains(t, err, "BLOB_S3_BUCKET")

	_, err = fromLookup(lookup(map[string]string{"BLOB_DRIVER": "gcs"}))
	assert.Error(t, err)
}
