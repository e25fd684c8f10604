// Command server runs the board backend: an HTTP+WebSocket process that
// reads its entire configuration from the environment, connects to the
// shared Redis coordination store, and serves the board endpoints until
// it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-board-backend/internal/broadcast"
	"github.com/tbourn/go-board-backend/internal/burst"
	"github.com/tbourn/go-board-backend/internal/config"
	httpapi "github.com/tbourn/go-board-backend/internal/http"
	"github.com/tbourn/go-board-backend/internal/http/handlers"
	"github.com/tbourn/go-board-backend/internal/identity"
	"github.com/tbourn/go-board-backend/internal/messages"
	"github.com/tbourn/go-board-backend/internal/moderation"
	"github.com/tbourn/go-board-backend/internal/observability"
	"github.com/tbourn/go-board-backend/internal/ratelimit"
	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/security"
	"github.com/tbourn/go-board-backend/internal/shadowban"
	"github.com/tbourn/go-board-backend/internal/stats"
	"github.com/tbourn/go-board-backend/internal/store"
	"github.com/tbourn/go-board-backend/internal/sysutil"
	"github.com/tbourn/go-board-backend/internal/wsreg"
)

// version is stamped at build time via -ldflags; left as a default here,
// same as the teacher's binaries.
var version = "dev"

// localRatePerMinute bounds the in-process token bucket Identify consults
// before ever talking to the store, so a single attacker IP can't exhaust
// Redis round trips on its own. Matches the governor limiter's 50 req/min
// in the original service's burst_protection_middleware.
const localRatePerMinute = 50

func main() {
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up observability")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Error().Err(err).Msg("otel shutdown error")
		}
	}()

	st, err := store.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to coordination store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("store close error")
		}
	}()

	resolver := identity.NewResolver(cfg.ServerSecret, cfg.TrustedProxies)
	rl := ratelimit.New(st)
	local := ratelimit.NewLocalIPLimiter(localRatePerMinute)
	bp := burst.New(st)
	sb := shadowban.New(st)
	rep := reputation.New(st)
	mod := moderation.New(cfg.ModerationAPIKey)
	pipeline := security.New(resolver, rl, local, bp, sb, rep, mod)

	msgStore := messages.New(st, rep, cfg.MessageTTL)
	statsEngine := stats.New(st)
	registry := wsreg.New()

	instanceID := uuid.NewString()
	bus := broadcast.New(st, instanceID)

	go runBroadcastSubscriber(ctx, bus, registry)

	r := gin.New()
	deps := httpapi.Deps{
		Store:      st,
		Pipeline:   pipeline,
		RateLimit:  rl,
		Messages:   msgStore,
		Broadcast:  bus,
		Registry:   registry,
		Stats:      statsEngine,
		Reputation: rep,
		Shadowban:  sb,
	}
	httpapi.RegisterRoutes(r, deps, cfg)

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Str("version", version).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting new connections and let in-flight handlers drain up to
	// the deadline before closing any socket, so a client mid-request never
	// sees its connection yanked out from under it.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	registry.CloseAll(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	log.Info().Msg("server stopped")
}

// runBroadcastSubscriber feeds every envelope published on the shared
// channel into this instance's local connection registry. Hidden-visibility
// messages are never published in the first place, so no filtering for
// that case is needed here; Throttled visibility is handled by passing the
// sender's IP through as the self-echo filter, the same way the board
// handler already resolved it at publish time.
func runBroadcastSubscriber(ctx context.Context, bus *broadcast.Bus, registry *wsreg.Registry) {
	bus.Subscribe(ctx, func(env broadcast.Envelope) {
		payload, err := json.Marshal(handlers.ToMessageResponse(env.Message.Public()))
		if err != nil {
			log.Warn().Err(err).Msg("broadcast: failed to encode outgoing message")
			return
		}
		filterIP := ""
		if env.Visibility == reputation.VisibilityThrottled {
			filterIP = env.SenderIP
		}
		registry.Broadcast(env.Message.City, filterIP, payload)
	})
}
