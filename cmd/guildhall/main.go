package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guildhall-dev/guildhall/internal/auth"
	"github.com/guildhall-dev/guildhall/internal/billing"
	"github.com/guildhall-dev/guildhall/internal/chat"
	"github.com/guildhall-dev/guildhall/internal/chat/bus"
	"github.com/guildhall-dev/guildhall/internal/collab"
	"github.com/guildhall-dev/guildhall/internal/config"
	"github.com/guildhall-dev/guildhall/internal/goal"
	"github.com/guildhall-dev/guildhall/internal/gql"
	"github.com/guildhall-dev/guildhall/internal/guild"
	"github.com/guildhall-dev/guildhall/internal/httpapi"
	"github.com/guildhall-dev/guildhall/internal/mailer"
	"github.com/guildhall-dev/guildhall/internal/metrics"
	"github.com/guildhall-dev/guildhall/internal/quest"
	"github.com/guildhall-dev/guildhall/internal/ratelimit"
	"github.com/guildhall-dev/guildhall/internal/storage"
	"github.com/guildhall-dev/guildhall/internal/storage/dynamo"
	"github.com/guildhall-dev/guildhall/internal/storage/memory"
	"github.com/guildhall-dev/guildhall/internal/token"
	"github.com/guildhall-dev/guildhall/internal/user"
	"github.com/guildhall-dev/guildhall/internal/ws"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("loading configuration")
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.MultiLevelWriter(os.Stdout)
	if cfg.LogFormat == "console" {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Stamp})
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "guildhall").Logger()
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	m := metrics.New()

	core, guildStore, err := openStores(ctx, cfg, m, log)
	if err != nil {
		return err
	}

	chatBus, closeBus, err := openBus(cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()

	tokens := token.New(cfg.InternalIssuer, cfg.HMACSecret, nil)
	var jwks *auth.JWKSCache
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSCache(cfg.JWKSURL, nil, nil)
	}
	authorizer := auth.New(auth.Config{
		InternalIssuer: cfg.InternalIssuer,
		ExternalIssuer: cfg.ExternalIssuer,
		Audience:       cfg.Audience,
	}, tokens, jwks, nil, log)

	var mail mailer.Mailer = mailer.NewRecorder()
	if cfg.MailerEndpoint != "" {
		mail = mailer.NewHTTP(cfg.MailerEndpoint, nil, log)
	} else {
		log.Warn().Msg("no mailer endpoint configured; mails are recorded, not sent")
	}

	var gateway billing.Gateway = billing.MockGateway{}
	if !cfg.MockPayments() {
		gateway = billing.NewStripeGateway(cfg.PaymentSecret, nil)
	} else {
		log.Warn().Msg("payment gateway in mock mode")
	}

	limiter := ratelimit.New(core, nil, log)

	users := user.New(core, tokens, mail, cfg.CountryAllowed, cfg.AccessTokenTTL, nil, log)
	goals := goal.New(core, nil, log)
	guilds := guild.New(guildStore, nil, log)
	guilds.CountGoalsWith(goals.CompletedCount)
	quests := quest.New(core, guilds.IsMember, nil, log)
	collabs := collab.New(core, nil, log)
	hub := chat.NewHub(chatBus, log)
	hub.CountPublishes(m.BusPublishes)
	chats := chat.New(core, guildStore, hub, guilds.IsMember, nil, log)
	chatQuota := ratelimit.Policy{
		Scope: ratelimit.ScopeUser, Name: "chat",
		Limit: cfg.RateLimits.ChatPerMinutePerUser, Window: time.Minute, BestEffort: true,
	}
	chats.LimitSendsWith(func(ctx context.Context, senderID string) error {
		return limiter.Allow(ctx, chatQuota, senderID)
	})
	bills := billing.New(core, gateway, cfg.CreditAllowances, cfg.IsFounder,
		cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, nil, log)
	webhook := billing.NewWebhook(bills, cfg.WebhookSecret)

	schema, err := gql.NewSchema(gql.Resolvers{Users: users, Goals: goals, Chat: chats})
	if err != nil {
		return err
	}
	gqlHandler := gql.NewHandler(schema, authorizer, cfg.WaitlistAPIKey, log)
	wsHandler := ws.NewHandler(chats, authorizer, m, nil, log)

	api := httpapi.New(httpapi.Deps{
		Users:      users,
		Goals:      goals,
		Quests:     quests,
		Guilds:     guilds,
		Collab:     collabs,
		Chat:       chats,
		Billing:    bills,
		Webhook:    webhook,
		Authorizer: authorizer,
		Limiter:    limiter,
		Metrics:    m,
		WS:         wsHandler,
		GraphQL:    gqlHandler,
		Config:     cfg,
		Log:        log,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) (storage.Store, storage.Store, error) {
	if cfg.StoreBackend == "memory" {
		log.Warn().Msg("using in-memory store; data will not survive a restart")
		return memory.New(), memory.New(), nil
	}
	client, err := dynamo.NewClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
	if err != nil {
		return nil, nil, err
	}
	core := dynamo.New(client, cfg.CoreTable, log).WithRetryHook(m.StoreRetries.Inc)
	guildStore := dynamo.New(client, cfg.GuildTable, log).WithRetryHook(m.StoreRetries.Inc)
	return core, guildStore, nil
}

func openBus(cfg *config.Config, log zerolog.Logger) (bus.Bus, func(), error) {
	switch cfg.Bus {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		b := bus.NewRedis(client, cfg.RedisPrefix, log)
		return b, func() { _ = b.Close() }, nil
	case "nats":
		conn, err := nats.Connect(cfg.NatsAddress)
		if err != nil {
			return nil, nil, err
		}
		b := bus.NewNATS(conn, cfg.NatsPrefix, log)
		return b, func() { _ = b.Close() }, nil
	default:
		b := bus.NewMemory()
		return b, func() { _ = b.Close() }, nil
	}
}
