package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 10*time.Second, cfg.OpTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	require.Equal(t, 100*time.Millisecond, cfg.PollInterval)

	custom := Config{OpTimeout: time.Second, SettleDelay: time.Millisecond, PollInterval: time.Millisecond}.withDefaults()
	require.Equal(t, time.Second, custom.OpTimeout)
	require.Equal(t, time.Millisecond, custom.SettleDelay)
}

func TestNewLauncherAppliesDefaults(t *testing.T) {
	t.Parallel()

	l := NewLauncher(Config{Proxy: "http://proxy:3128"})
	require.Equal(t, "http://proxy:3128", l.cfg.Proxy)
	require.Equal(t, 10*time.Second, l.cfg.OpTimeout)
}
