package main

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun_InvalidConfigReturnsError(t *testing.T) {
	t.Setenv("BLOB_DRIVER", "tape")

	err := run(zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRun_StartupFailureClosesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SIGNING_KEY", "")
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("ODIN_BASE_URL", "odin sin esquema")

	err := run(zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "odin client")

	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
