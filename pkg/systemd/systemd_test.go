package systemd

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "timelapse/pkg/logx"
)

func TestDisabledNotifierIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := NewNotifier(false, logx.Nop())
	require.False(t, n.Ready())
	require.Zero(t, n.WatchdogInterval())

	var nilNotifier *Notifier
	require.False(t, nilNotifier.Stopping())
}

func TestNotifySendsToSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	n := NewNotifier(true, logx.Nop())
	require.True(t, n.Ready())

	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	k, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "READY=1", string(buf[:k]))
}

func TestWatchdogIntervalIsHalved(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "30000000")
	t.Setenv("WATCHDOG_PID", "")
	n := NewNotifier(true, logx.Nop())
	require.Equal(t, 15*time.Second, n.WatchdogInterval())
}
