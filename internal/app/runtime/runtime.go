// Package runtime builds the bot from its configuration and owns every
// long-lived component.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"twitchbot/internal/app/channels"
	"twitchbot/internal/app/events"
	"twitchbot/internal/app/mods"
	"twitchbot/internal/app/ratelimit"
	"twitchbot/internal/app/replywait"
	"twitchbot/internal/app/workers"
	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/cache"
	"twitchbot/internal/infrastructure/config"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/persistence/sqlstore"
	"twitchbot/internal/infrastructure/telemetry"
	twitchinfra "twitchbot/internal/infrastructure/platform/twitch"
	twitchadapter "twitchbot/internal/interface/adapters/twitch"
	ws "twitchbot/internal/interface/api/ws"
	"twitchbot/internal/interface/irc"
	"twitchbot/internal/interface/outs"
	"twitchbot/internal/interface/pubsub"
	"twitchbot/internal/usecase/commands"
	"twitchbot/internal/usecase/commands/builtin"
	"twitchbot/internal/usecase/handle_message"
	"twitchbot/internal/usecase/permissions"
	"twitchbot/internal/usecase/polls"
	"twitchbot/internal/usecase/timers"
	"twitchbot/internal/usecase/toggles"
)

const (
	stopTimeout   = 5 * time.Second
	cacheMergeAge = time.Hour
)

// ErrWireFault is returned by Run when the chat connection drops. The
// process exits with status 2 so a supervisor restarts it.
var ErrWireFault = errors.New("chat connection lost")

type Options struct {
	// Config is used as is when set; otherwise ConfigPath is loaded.
	Config     *config.Config
	ConfigPath string
	// Dial overrides the chat dialer, used by tests.
	Dial twitchadapter.DialFunc
	// Mods registers extra mods after the built-in ones.
	Mods func(r *mods.Registry) error
}

type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	log    *slog.Logger

	store    *sqlstore.Store
	cache    *cache.Store
	helix    *twitchinfra.HelixService
	conn     *twitchadapter.Conn
	parser   *irc.Parser
	emotes   *irc.EmoteTable
	limiter  *ratelimit.Limiter
	sender   *outs.Sender
	channels *channels.Registry
	commands *commands.Registry
	custom   *commands.CustomCommandManager
	catalog  *commands.Service
	perms    *permissions.Engine
	toggles  *toggles.Service
	mods     *mods.Registry
	replies  *replywait.Queue
	timers   *timers.Engine
	polls    *polls.Engine
	pubsub   *pubsub.Client
	pool     *workers.Pool
	bus      *events.Bus
	ops      *ws.Server
	uc       *handle_message.Interactor

	wg        sync.WaitGroup
	fault     chan error
	connected atomic.Bool
	stopping  atomic.Bool
	stopOnce  sync.Once
}

// Start builds every component and launches the background loops. The
// returned runtime serves until ctx ends or Stop is called.
func Start(ctx context.Context, opts Options) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return nil, err
		}
	}

	r, err := build(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := r.launch(); err != nil {
		r.Stop()
		return nil, err
	}
	return r, nil
}

func build(ctx context.Context, cfg *config.Config, opts Options) (_ *Runtime, err error) {
	runtimeCtx, cancel := context.WithCancel(ctx)
	r := &Runtime{
		ctx:    runtimeCtx,
		cancel: cancel,
		cfg:    cfg,
		log:    logger.Service("runtime"),
		fault:  make(chan error, 1),
	}
	defer func() {
		if err != nil {
			r.release()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: data dir %s: %v", config.ErrMisconfigured, cfg.DataDir, err)
	}

	if r.store, err = sqlstore.Open(runtimeCtx, cfg.Database.Driver, cfg.Database.DSN); err != nil {
		if errors.Is(err, sqlstore.ErrUnsupportedDriver) {
			return nil, fmt.Errorf("%w: %v", config.ErrMisconfigured, err)
		}
		return nil, fmt.Errorf("open store: %w", err)
	}

	if r.cache, err = cache.Open(filepath.Join(cfg.DataDir, "cache")); err != nil {
		r.log.Warn("cache unavailable, continuing without", "error", err)
		r.cache, err = nil, nil
	}

	var (
		streams  domain.StreamInfoPort
		chatters domain.ChatterListPort
		editor   domain.StreamEditor
	)
	if cfg.ClientID != "" {
		helixSvc, herr := twitchinfra.NewHelixService(twitchinfra.Options{
			ClientID:        cfg.ClientID,
			UserAccessToken: cfg.OAuthToken(),
			BotLogin:        cfg.Nick,
			Cache:           r.cache,
		})
		if herr != nil {
			r.log.Warn("helix unavailable, stream info disabled", "error", herr)
		} else {
			r.helix = helixSvc
			streams, chatters, editor = helixSvc, helixSvc, helixSvc
		}
	}

	r.emotes = irc.NewEmoteTable()
	r.parser = irc.NewParser(r.emotes)
	r.channels = channels.NewRegistry(cfg.Nick, streams, chatters)
	for _, name := range cfg.Channels {
		r.channels.Ensure(name)
	}

	r.limiter = ratelimit.New(ratelimit.DefaultConfig(), r.channels.IsPrivileged)
	r.conn = twitchadapter.NewConn(twitchadapter.Config{
		Addr:     cfg.IRCAddr,
		Nick:     cfg.Nick,
		OAuth:    cfg.OAuth,
		Channels: cfg.Channels,
		Dial:     opts.Dial,
	})
	r.sender = outs.NewSender(r.conn, r.limiter, cfg.Nick)

	r.bus = events.NewBus()
	r.pool = workers.New(cfg.HandlerLimit, cfg.HandlerQueue)
	r.replies = replywait.New()

	r.commands = commands.NewRegistry(cfg.Prefix)
	r.custom = commands.NewCustomCommandManager(r.store, cfg.Prefix)
	r.custom.SetReservedChecker(r.commands.IsReserved)
	r.custom.SetUptime(r.uptime)
	r.catalog = commands.NewService(r.commands, r.custom)

	r.perms = permissions.NewEngine(filepath.Join(cfg.DataDir, "permissions"), cfg.Owner)
	r.toggles = toggles.NewService(r.store)
	r.timers = timers.NewEngine(r.store, r.sender)
	r.polls = polls.NewEngine(r.sender, nil, cfg.Prefix)

	r.mods = mods.NewRegistry(&mods.Env{
		Sender:          r.sender,
		Commands:        r.commands,
		Channels:        r.channels,
		Balances:        r.store,
		Notifications:   r.store,
		Bus:             r.bus,
		Replies:         r.replies,
		BotNick:         cfg.Nick,
		DefaultBalance:  cfg.DefaultBalance,
		LoyaltyInterval: time.Duration(cfg.LoyaltyInterval) * time.Second,
		LoyaltyAmount:   cfg.LoyaltyAmount,
	}, cfg.ModsFolder, r.toggles)
	if err := mods.Builtin(r.mods); err != nil {
		return nil, err
	}
	if opts.Mods != nil {
		if err := opts.Mods(r.mods); err != nil {
			return nil, fmt.Errorf("register mods: %w", err)
		}
	}

	if err := builtin.Register(r.commands, builtin.Deps{
		Catalog:        r.catalog,
		Custom:         r.custom,
		Permissions:    r.perms,
		Toggles:        r.toggles,
		Timers:         r.timers,
		Polls:          r.polls,
		Quotes:         r.store,
		Counters:       r.store,
		Balances:       r.store,
		Currency:       r.store,
		Mods:           r.mods,
		Streams:        streams,
		Editor:         editor,
		DefaultBalance: cfg.DefaultBalance,
	}); err != nil {
		return nil, fmt.Errorf("register built-in commands: %w", err)
	}

	r.uc = handle_message.NewInteractor(handle_message.Config{
		BotNick:                         cfg.Nick,
		DisableWhispers:                 cfg.DisableWhispers,
		UseCommandWhitelist:             cfg.UseCommandWhitelist,
		CommandWhitelist:                cfg.CommandWhitelist,
		SendMessageOnWhitelistDeny:      cfg.SendMessageOnWhitelistDeny,
		SendMessageOnDisabledCommandUse: cfg.SendMessageOnDisabledCommandUse,
		EnableCooldownBypassPermissions: cfg.EnableCooldownBypassPermissions,
	}, handle_message.Deps{
		Registry:    r.commands,
		Custom:      r.custom,
		Sender:      r.sender,
		Permissions: r.perms,
		Toggles:     r.toggles,
		Mods:        r.mods,
		Channels:    r.channels,
		Replies:     r.replies,
		Pool:        r.pool,
	})
	r.polls.SetNotifier(r.uc)
	r.uc.Subscribe(newBusRelay(r.bus))

	if cfg.PubSubEnabled {
		if r.helix == nil {
			r.log.Warn("pubsub needs client_id to resolve channel ids, disabled")
		} else {
			r.pubsub = pubsub.NewClient(pubsub.Config{
				URL:   cfg.PubSubURL,
				Token: cfg.OAuthToken(),
			}, r.uc.HandlePubSub)
		}
	}

	if cfg.Metrics.Addr != "" {
		r.ops = ws.NewServer(ws.Config{Addr: cfg.Metrics.Addr}, r.bus, r.catalog, r.channels)
		r.ops.SetHealth(r.health)
	}
	return r, nil
}

// launch starts the named loops and the chat connection.
func (r *Runtime) launch() error {
	ctx := r.ctx

	if err := r.timers.Start(ctx); err != nil {
		return err
	}
	r.channels.Start(ctx)
	r.loop("ratelimit", r.limiter.Run)
	r.loop("replywait", func(ctx context.Context) { r.replies.Run(ctx, 0) })
	r.loop("polls", func(ctx context.Context) { r.polls.Run(ctx, 0) })
	if r.cache != nil {
		r.loop("cache-merge", func(ctx context.Context) { r.cache.RunMerge(ctx, cacheMergeAge) })
	}
	if r.helix != nil {
		r.loop("emotes", r.loadEmotes)
	}

	if err := r.mods.LoadAll(ctx); err != nil {
		return fmt.Errorf("load mods: %w", err)
	}

	r.loop("chat", func(ctx context.Context) {
		err := r.conn.Run(ctx, r.handleLine)
		if r.stopping.Load() || ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		r.connected.Store(false)
		select {
		case r.fault <- err:
		default:
		}
	})

	if r.pubsub != nil {
		r.loop("pubsub", func(ctx context.Context) {
			if err := r.pubsub.Run(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("pubsub stopped", "error", err)
			}
		})
		r.loop("pubsub-listen", r.listenPubSub)
	}

	if r.ops != nil {
		r.loop("ops", func(ctx context.Context) {
			if err := r.ops.Start(ctx); err != nil {
				r.log.Error("ops server stopped", "error", err)
			}
		})
	}

	r.log.Info("bot started", "nick", r.cfg.Nick, "channels", r.cfg.Channels, "prefix", r.cfg.Prefix)
	return nil
}

func (r *Runtime) loop(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(r.ctx)
		r.log.Debug("loop finished", "loop", name)
	}()
}

// handleLine runs on the reader goroutine. A panic drops the frame and
// the reader carries on with the next one.
func (r *Runtime) handleLine(ctx context.Context, line string) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.HandlerPanic()
			r.log.Error("frame handling panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	ev, err := r.parser.Parse(line)
	if err != nil {
		r.log.Warn("dropping frame", "error", err)
		return
	}
	r.connected.Store(true)
	r.uc.Handle(ctx, ev)
}

func (r *Runtime) loadEmotes(ctx context.Context) {
	defs, err := r.helix.GlobalEmotes(ctx)
	if err != nil {
		r.log.Warn("global emotes unavailable", "error", err)
		return
	}
	r.emotes.Load(defs)
	r.log.Info("global emotes loaded", "count", len(defs))
}

// listenPubSub subscribes each configured channel's topics plus the bot's
// whisper topic.
func (r *Runtime) listenPubSub(ctx context.Context) {
	botID, err := r.helix.UserID(ctx, r.cfg.Nick)
	if err != nil {
		r.log.Error("resolve bot id for pubsub", "error", err)
		return
	}
	if err := r.pubsub.Listen(ctx, r.cfg.Nick, pubsub.WhisperTopic(botID)); err != nil {
		r.log.Warn("pubsub listen failed", "channel", r.cfg.Nick, "error", err)
	}
	for _, name := range r.cfg.Channels {
		channelID, err := r.helix.UserID(ctx, name)
		if err != nil {
			logger.Channel(name).Warn("resolve channel id for pubsub", "error", err)
			continue
		}
		if err := r.pubsub.Listen(ctx, name, pubsub.ChannelTopics(channelID, botID)...); err != nil {
			logger.Channel(name).Warn("pubsub listen failed", "error", err)
		}
	}
}

func (r *Runtime) uptime(channel string) (time.Duration, bool) {
	ch, ok := r.channels.Get(channel)
	if !ok {
		return 0, false
	}
	return ch.Uptime(time.Now())
}

func (r *Runtime) health() error {
	if r.stopping.Load() {
		return errors.New("shutting down")
	}
	if !r.connected.Load() {
		return errors.New("chat not connected")
	}
	return nil
}

// Run blocks until ctx ends (nil) or the chat connection fails
// (ErrWireFault).
func (r *Runtime) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-r.ctx.Done():
		return nil
	case err := <-r.fault:
		r.log.Error("chat connection failed", "error", err)
		return fmt.Errorf("%w: %v", ErrWireFault, err)
	}
}

// Stop unloads mods, parts every channel, quits and waits for handlers and
// loops, each bounded by a deadline.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		deadline, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		if r.mods != nil {
			r.mods.UnloadAll(deadline)
		}
		if r.timers != nil {
			r.timers.Stop()
		}
		if r.conn != nil {
			if err := r.conn.Close(deadline); err != nil {
				r.log.Warn("chat close", "error", err)
			}
		}
		r.cancel()
		if r.pool != nil && !r.pool.Wait(stopTimeout) {
			r.log.Warn("handlers still running at shutdown", "running", r.pool.Running())
		}

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-deadline.Done():
			r.log.Warn("loops still running at shutdown")
		}

		r.release()
		r.log.Info("bot stopped")
	})
}

func (r *Runtime) release() {
	r.cancel()
	if r.pool != nil {
		r.pool.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			r.log.Warn("cache close", "error", err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.log.Warn("store close", "error", err)
		}
	}
}

func (r *Runtime) Config() *config.Config { return r.cfg }

func (r *Runtime) Bus() *events.Bus { return r.bus }

func (r *Runtime) Commands() *commands.Registry { return r.commands }

func (r *Runtime) CommandService() *commands.Service { return r.catalog }

func (r *Runtime) Channels() *channels.Registry { return r.channels }

func (r *Runtime) Interactor() *handle_message.Interactor { return r.uc }

func (r *Runtime) Mods() *mods.Registry { return r.mods }

func (r *Runtime) Replies() *replywait.Queue { return r.replies }

func (r *Runtime) Sender() *outs.Sender { return r.sender }
