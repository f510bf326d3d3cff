// Command shiftwatch is the main entrypoint for the shift announcement bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Resolves the target channel and bot account via Helix.
//   - Runs the session reconciliation engine: presence polling, roster
//     refresh, and end-of-shift announcements with generated quotes.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: active shifts are drained and
// announced before the process exits.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/shiftwatch/chat"
	"github.com/onnwee/shiftwatch/config"
	"github.com/onnwee/shiftwatch/notify"
	"github.com/onnwee/shiftwatch/quotes"
	"github.com/onnwee/shiftwatch/roster"
	"github.com/onnwee/shiftwatch/server"
	"github.com/onnwee/shiftwatch/session"
	"github.com/onnwee/shiftwatch/telemetry"
	"github.com/onnwee/shiftwatch/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("shiftwatch", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		ClientID:       cfg.ClientID,
		UserToken:      cfg.HelixToken(),
	}

	// Resolve the broadcaster and the bot's own account up front; without
	// these IDs no roster or presence query can run.
	rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
	broadcasterID, err := helix.GetUserID(rctx, cfg.Channel)
	if err != nil {
		rcancel()
		slog.Error("failed to resolve channel", slog.String("channel", cfg.Channel), slog.Any("err", err))
		os.Exit(1)
	}
	botID, err := helix.GetUserID(rctx, cfg.BotUsername)
	rcancel()
	if err != nil {
		slog.Error("failed to resolve bot account", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("resolved channel", slog.String("channel", cfg.Channel), slog.String("broadcaster_id", broadcasterID))

	tracker := roster.New(
		&twitchapi.ElevatedRoster{Client: helix, BroadcasterID: broadcasterID},
		cfg.RoleLabels,
		append(cfg.BotLogins, cfg.BotUsername),
	)

	provider := quotes.New(quotes.Config{
		APIURL:   cfg.QuoteAPIURL,
		APIKey:   cfg.QuoteAPIKey,
		Model:    cfg.QuoteModel,
		Capacity: cfg.QuoteCacheSize,
	})
	go provider.Preload(ctx, cfg.QuoteCacheSize)

	var engine *session.Engine
	ircClient := chat.New(chat.Config{
		Username:   cfg.BotUsername,
		OAuthToken: cfg.IRCToken(),
		Channel:    cfg.Channel,
	}, tracker, func(sig session.Signal) { engine.Push(sig) })

	notifier := notify.New(ircClient, tracker, provider)

	engine = session.New(session.Config{
		Presence: &twitchapi.ChatterPresence{
			Client:        helix,
			BroadcasterID: broadcasterID,
			ModeratorID:   botID,
		},
		Membership:      tracker,
		Announcer:       notifier,
		PollInterval:    cfg.PollInterval(),
		RefreshInterval: cfg.RefreshInterval(),
		MetricsInterval: cfg.MetricsInterval(),
	})

	startedAt := time.Now()
	go func() {
		status := func() server.Status {
			return server.Status{
				Service:           "shiftwatch",
				Channel:           cfg.Channel,
				UptimeSeconds:     int64(time.Since(startedAt).Seconds()),
				TrackedIdentities: engine.TrackedCount(),
				ActiveSessions:    engine.ActiveCount(),
				SessionsEnded:     engine.EndedCount(),
			}
		}
		if err := server.Start(ctx, cfg.HTTPAddr, status); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// The IRC connection outlives the signal context: the engine's shutdown
	// drain still has forced-end announcements to deliver after ctx is
	// cancelled, so the transport is torn down only once the engine returns.
	ircCtx, ircCancel := context.WithCancel(context.Background())
	defer ircCancel()
	ircDone := make(chan struct{})
	go func() {
		defer close(ircDone)
		if err := ircClient.Run(ircCtx); err != nil {
			slog.Error("irc client exited with error", slog.Any("err", err))
		}
	}()

	// Blocks until shutdown signal, then drains active shifts before returning.
	engine.Run(ctx)

	// Give the writer a moment to flush queued announcements before closing.
	time.Sleep(500 * time.Millisecond)
	ircCancel()
	<-ircDone
	slog.Info("shutdown complete")
}
