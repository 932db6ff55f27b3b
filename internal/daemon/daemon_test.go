package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/client"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/lock"
	"github.com/matheus3301/shopchat/internal/outbox"
	"github.com/matheus3301/shopchat/internal/profile"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// testHome points the base directory at a short temp path to stay under
// the Unix socket path limit.
func testHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "shopchat-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
	return dir
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.UserID = "u1"
	cfg.Log.Level = "error"
	cfg.Log.Console = false
	return cfg
}

func TestDaemonLifecycle(t *testing.T) {
	testHome(t)
	broker := transport.NewMemoryBroker()

	app := fx.New(
		Module(Params{Profile: "test", Config: testConfig(), Dialer: broker.Dialer()}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))

	info, err := os.Stat(profile.SocketPath("test"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// The peer runs its own manager on the same broker.
	peerDB, _, err := store.OpenMigrated(filepath.Join(t.TempDir(), "peer.db"))
	require.NoError(t, err)
	defer func() { _ = peerDB.Close() }()
	peerMgr := chat.NewManager(peerDB, nil, broker.Dialer(), bus.New(), chat.DefaultOptions(), nil)
	defer peerMgr.CloseAll()
	peer, err := peerMgr.Open(ctx, "u2", "u1")
	require.NoError(t, err)

	c, err := client.New(profile.SocketPath("test"))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", st.Profile)
	assert.Equal(t, "u1", st.UserID)

	_, err = c.Open(ctx, "u2")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		conv, err := c.GetConversation(ctx, "u2")
		return err == nil && conv.Connection == "connected"
	}, 2*time.Second, 5*time.Millisecond)

	_, err = c.SendText(ctx, "u2", "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(peer.Snapshot().Messages) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, app.Stop(ctx))

	// Closing the session announced offline for u1.
	require.Eventually(t, func() bool { return !peer.Snapshot().PeerOnline }, 2*time.Second, 5*time.Millisecond)

	_, err = os.Stat(profile.SocketPath("test"))
	assert.True(t, os.IsNotExist(err))

	// The profile lock was released and history survived.
	lk, err := lock.Acquire(profile.Dir("test"))
	require.NoError(t, err)
	require.NoError(t, lk.Release())

	db, _, err := store.OpenMigrated(profile.DBPath("test"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	msgs, err := db.LoadMessages(ctx, "chat_u1_u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	testHome(t)
	require.NoError(t, profile.EnsureDir("test"))
	lk, err := lock.Acquire(profile.Dir("test"))
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()

	app := fx.New(
		Module(Params{Profile: "test", Config: testConfig(), Dialer: transport.NoopDialer()}),
		fx.NopLogger,
	)
	err = app.Err()
	require.Error(t, err)
	var held *lock.HeldError
	assert.ErrorAs(t, err, &held)
}

func TestDaemonRequiresUserID(t *testing.T) {
	testHome(t)
	cfg := testConfig()
	cfg.UserID = ""

	app := fx.New(Module(Params{Profile: "test", Config: cfg}), fx.NopLogger)
	assert.Error(t, app.Err())
}

func TestNewDialer(t *testing.T) {
	logger := zap.NewNop()
	tests := []struct {
		url  string
		want any
	}{
		{"none", &transport.Noop{}},
		{"local", &transport.Noop{}},
		{"memory://", &transport.MemoryClient{}},
		{"tcp://localhost:1883", &transport.MQTT{}},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			dial := newDialer(config.Broker{URL: tt.url, QoS: 1}, logger)
			assert.IsType(t, tt.want, dial())
		})
	}
}

func TestOutboxForLocalOnlyBroker(t *testing.T) {
	sender := outbox.NewSender(nil, nil, 1, nil)
	tests := []struct {
		name   string
		url    string
		outbox bool
		want   bool
	}{
		{"remote broker", "tcp://localhost:1883", true, true},
		{"disabled", "tcp://localhost:1883", false, false},
		{"local only", "none", true, false},
		{"empty url", "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Broker.URL = tt.url
			cfg.Chat.Outbox = tt.outbox
			ob := outboxFor(cfg, sender)
			if tt.want {
				assert.Same(t, sender, ob)
			} else {
				assert.Nil(t, ob)
			}
		})
	}
}
