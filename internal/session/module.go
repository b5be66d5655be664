package session

import (
	"context"

	"github.com/ovasylenko/chatline/internal/api"
	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/config"
	"github.com/ovasylenko/chatline/internal/conn"
	"github.com/ovasylenko/chatline/internal/directory"
	"github.com/ovasylenko/chatline/internal/identity"
	"github.com/ovasylenko/chatline/internal/logging"
	"github.com/ovasylenko/chatline/internal/presence"
	"github.com/ovasylenko/chatline/internal/receipt"
	intsync "github.com/ovasylenko/chatline/internal/sync"
	"github.com/ovasylenko/chatline/internal/transport"
	"github.com/ovasylenko/chatline/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup inputs passed to the fx module.
type Params struct {
	Config *config.Config
	Token  string
}

// Module returns the fx module for the chat client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("session",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideIdentity,
			provideBus,
			provideStateMachine,
			provideDialer,
			provideConnManager,
			provideAPIClient,
			providePresence,
			provideDirectory,
			provideEngine,
			provideTyping,
			provideReceipts,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.LogPath)
}

func provideIdentity(p Params) (identity.User, error) {
	u, err := identity.FromToken(p.Token)
	if err != nil {
		return identity.User{}, err
	}
	return *u, nil
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(logger)
}

func provideStateMachine(b *bus.Bus) *conn.Machine {
	return conn.NewMachine(b)
}

func provideDialer(p Params) transport.Dialer {
	return &transport.WebsocketDialer{URL: p.Config.ServerURL}
}

func provideConnManager(p Params, d transport.Dialer, b *bus.Bus, m *conn.Machine, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(d, b, m, p.Config.ReconnectAttempts, p.Config.ReconnectDelay.Duration, logger)
}

func provideAPIClient(p Params) *api.Client {
	return api.NewClient(p.Config.APIURL, p.Token)
}

func providePresence(c *api.Client, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(c, logger)
}

func provideDirectory(c *api.Client, tracker *presence.Tracker, logger *zap.Logger) *directory.Directory {
	return directory.New(c, tracker, logger)
}

func provideEngine(p Params, user identity.User, cm *conn.Manager, c *api.Client, dir *directory.Directory, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(user.ID, cm, c, dir, b, p.Config.SendTimeout.Duration, logger)
}

func provideTyping(p Params, user identity.User, cm *conn.Manager, b *bus.Bus, logger *zap.Logger) *typing.Manager {
	return typing.NewManager(user.ID, cm, b, p.Config.TypingDebounce.Duration, logger)
}

func provideReceipts(cm *conn.Manager, dir *directory.Directory, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *receipt.Synchronizer {
	return receipt.NewSynchronizer(cm, dir, engine, b, logger)
}

func provideSession(
	p Params,
	user identity.User,
	b *bus.Bus,
	cm *conn.Manager,
	tracker *presence.Tracker,
	dir *directory.Directory,
	engine *intsync.Engine,
	tm *typing.Manager,
	rs *receipt.Synchronizer,
	logger *zap.Logger,
) *Session {
	return NewSession(user, p.Token, b, cm, tracker, dir, engine, tm, rs, logger)
}

func registerLifecycle(lc fx.Lifecycle, s *Session, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The session keeps reconnecting in the background; only a
			// failed initial load aborts startup.
			if err := s.Start(context.Background()); err != nil {
				s.Close()
				return err
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			s.Close()
			return nil
		},
	})
}
