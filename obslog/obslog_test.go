package obslog

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestZapLoggerSatisfiesInterface(t *testing.T) {
	var _ Logger = (*ZapLogger)(nil)

	logger := NewZap(zaptest.NewLogger(t))
	logger.Info("tenant enabled module", "tenant", "tenant-a", "module", "users-1.0.0")
	logger.Warn("deploy slow", "module", "users-1.0.0")
	logger.Error("hook failed", "module", "users-1.0.0", "err", "timeout")
	logger.Debug("rearming timer", "tenant", "tenant-a")
}

func TestNoopSatisfiesInterface(t *testing.T) {
	var l Logger = Noop{}
	l.Info("ignored")
	require.NotNil(t, l)
}
