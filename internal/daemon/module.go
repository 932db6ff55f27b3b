package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/shopchat/internal/api"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/lock"
	"github.com/matheus3301/shopchat/internal/logging"
	"github.com/matheus3301/shopchat/internal/outbox"
	"github.com/matheus3301/shopchat/internal/profile"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/topic"
	"github.com/matheus3301/shopchat/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string           // optional override for testing; empty = use default
	Dialer     transport.Dialer // optional override for testing; empty = from Config.Broker
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideDialer,
			provideSender,
			provideManager,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := topic.ValidateID(cfg.UserID); err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	opts := logging.Options{
		Path:    profile.LogPath(p.Profile),
		Profile: p.Profile,
		Level:   cfg.Log.Level,
	}
	if cfg.Log.Console {
		opts.Console = os.Stderr
	}
	return logging.New(opts)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// daemons of the same profile.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDialer(p Params, cfg *config.Config, logger *zap.Logger) transport.Dialer {
	if p.Dialer != nil {
		return p.Dialer
	}
	return newDialer(cfg.Broker, logger)
}

// newDialer picks the transport for a broker URL. "memory://" runs an
// in-process broker; an empty URL, "none" and "local" keep conversations on
// this device.
func newDialer(cfg config.Broker, logger *zap.Logger) transport.Dialer {
	switch {
	case cfg.LocalOnly():
		logger.Info("broker disabled, conversations are local only")
		return transport.NoopDialer()
	case strings.HasPrefix(cfg.URL, "memory://"):
		logger.Info("using in-process broker")
		return transport.NewMemoryBroker().Dialer()
	default:
		logger.Info("using MQTT broker", zap.String("url", cfg.URL))
		return transport.MQTTDialer(transport.MQTTConfig{
			BrokerURL:      cfg.URL,
			Username:       cfg.Username,
			Password:       cfg.Password,
			SubscribeQoS:   byte(cfg.QoS),
			KeepAlive:      cfg.KeepAlive.Duration,
			ConnectTimeout: cfg.ConnectTimeout.Duration,
			AutoReconnect:  cfg.AutoReconnect,
		}, logger.Named("mqtt"))
	}
}

func provideSender(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, b, byte(cfg.Broker.QoS), logger.Named("outbox"))
}

// outboxFor returns the outbox sessions queue into, or nil when queueing is
// disabled or there is no broker to ever flush to.
func outboxFor(cfg *config.Config, sender *outbox.Sender) chat.Outbox {
	if !cfg.Chat.Outbox || cfg.Broker.LocalOnly() {
		return nil
	}
	return sender
}

func provideManager(cfg *config.Config, db *store.DB, sender *outbox.Sender, dial transport.Dialer, b *bus.Bus, logger *zap.Logger) *chat.Manager {
	opts := chat.Options{
		QoS:            byte(cfg.Broker.QoS),
		ClientIDPrefix: cfg.Broker.ClientIDPrefix,
		TypingWindow:   cfg.Chat.TypingWindow.Duration,
		TypingThrottle: cfg.Chat.TypingThrottle.Duration,
		StoreTimeout:   cfg.Chat.StoreTimeout.Duration,
	}
	return chat.NewManager(db, outboxFor(cfg, sender), dial, b, opts, logger.Named("chat"))
}

func provideChatService(p Params, cfg *config.Config, mgr *chat.Manager, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(mgr, b, p.Profile, cfg.UserID, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, mgr *chat.Manager, chatSvc *api.ChatService, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("daemon starting", zap.String("user", cfg.UserID))
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.CloseAll()
			chatSvc.Shutdown()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
