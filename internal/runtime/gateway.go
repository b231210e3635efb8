// Package runtime provides the Gateway struct that assembles the broker, the
// broadcast gateway, the decision adapters and the HTTP server, and manages
// their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/interaction-gateway/internal/adapters/auth/apikey"
	"github.com/tjfontaine/interaction-gateway/internal/adapters/events/direct"
	"github.com/tjfontaine/interaction-gateway/internal/adapters/events/webhook"
	"github.com/tjfontaine/interaction-gateway/internal/adapters/policy/basic"
	"github.com/tjfontaine/interaction-gateway/internal/adapters/policy/ratelimit"
	"github.com/tjfontaine/interaction-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/interaction-gateway/internal/api"
	"github.com/tjfontaine/interaction-gateway/internal/broker"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/decisions"
	"github.com/tjfontaine/interaction-gateway/internal/decisions/askuser"
	"github.com/tjfontaine/interaction-gateway/internal/decisions/permission"
	"github.com/tjfontaine/interaction-gateway/internal/decisions/plan"
	"github.com/tjfontaine/interaction-gateway/internal/gateway"
	"github.com/tjfontaine/interaction-gateway/internal/pkg/config"
	"github.com/tjfontaine/interaction-gateway/internal/server"
	"github.com/tjfontaine/interaction-gateway/internal/telemetry"
	"github.com/tjfontaine/interaction-gateway/internal/transport/ws"
)

// Gateway is the main entry point for running the interaction gateway.
// It can be embedded in larger applications or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	config ports.ConfigProvider
	auth   ports.AuthProvider
	audit  ports.AuditStore
	events []ports.EventPublisher
	policy ports.QualityPolicy
	clock  ports.Clock
	logger *slog.Logger
	level  *slog.LevelVar

	listener net.Listener

	// Built by Start
	cfg         *config.Config
	broker      *broker.Broker
	broadcast   *gateway.Gateway
	permissions *permission.Service
	limiter     *ratelimit.Policy
	keys        *apikey.Provider
	publishers  []ports.EventPublisher
	ownsAudit   bool
	server      *server.Server
	serveErr    chan error
	stopTracing func(context.Context) error

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Gateway with the given options.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}

	return gw, nil
}

// Start loads configuration, assembles every component and starts serving.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return fmt.Errorf("gateway already started")
	}

	g.ctx, g.cancel = context.WithCancel(ctx)

	cfg, err := g.config.Load(g.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg
	g.applyLogLevel(cfg)

	if cfg.Telemetry.Tracing {
		stop, err := telemetry.InitTracer(telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Logger:      g.logger,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		g.stopTracing = stop
	}

	if err := g.initPublishers(cfg); err != nil {
		return fmt.Errorf("init publishers: %w", err)
	}

	g.initBroker(cfg)
	g.initPolicy(cfg)
	g.initAuth(cfg)

	if err := g.startServer(cfg); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	go g.watchConfig()

	g.logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("publishers", len(g.publishers)+1),
		slog.Bool("auth", g.keys == nil || g.keys.Enabled()),
		slog.String("storage", cfg.Storage.Type))

	return nil
}

// Addr returns the address the HTTP server listens on, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Broker exposes the interaction broker for embedding applications.
func (g *Gateway) Broker() *broker.Broker {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.broker
}

// Shutdown cancels pending interactions, stops the HTTP server and releases
// every resource the gateway owns.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error

	// Blocked decision requests are released first, or the HTTP server
	// would wait on them until ctx expires.
	if g.broker != nil {
		if err := g.broker.Close(ctx); err != nil {
			g.logger.Error("failed to close broker", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		if err := <-g.serveErr; err != nil {
			errs = append(errs, err)
		}
		g.server = nil
		g.listener = nil
	}

	if g.broadcast != nil {
		if err := g.broadcast.Close(); err != nil {
			g.logger.Error("failed to close broadcast gateway", slog.String("error", err.Error()))
		}
	}

	for _, pub := range g.publishers {
		if err := pub.Close(); err != nil {
			g.logger.Error("failed to close event publisher", slog.String("error", err.Error()))
		}
	}

	if g.audit != nil && g.ownsAudit {
		if err := g.audit.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if g.stopTracing != nil {
		if err := g.stopTracing(ctx); err != nil {
			g.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	if g.config != nil {
		if err := g.config.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

// watchConfig watches for config changes and reloads.
func (g *Gateway) watchConfig() {
	onChange := func(newCfg *config.Config) {
		g.logger.Info("config changed, reloading")
		if err := g.reload(newCfg); err != nil {
			g.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Watch(g.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies the settings that can change without a restart: log level,
// rate limits and API keys. Broker limits and storage need a restart.
func (g *Gateway) reload(cfg *config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.applyLogLevel(cfg)

	if g.limiter != nil && cfg.RateLimit.Enabled {
		g.limiter.Update(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}

	if g.keys != nil {
		if err := g.keys.ReloadFromConfig(cfg); err != nil {
			return fmt.Errorf("reload api keys: %w", err)
		}
	}

	if g.cfg != nil && (g.cfg.Broker != cfg.Broker || g.cfg.Storage != cfg.Storage) {
		g.logger.Warn("broker and storage settings apply after restart")
	}
	g.cfg = cfg

	g.logger.Info("reload complete",
		slog.Int("api_keys", len(cfg.Auth.APIKeys)),
		slog.Bool("rate_limit", cfg.RateLimit.Enabled))
	return nil
}

func (g *Gateway) applyLogLevel(cfg *config.Config) {
	if g.level == nil {
		return
	}
	g.level.Set(ParseLevel(cfg.Logging.Level))
}

// initPublishers opens the audit store and the webhook publisher, in
// addition to any publishers injected through options.
func (g *Gateway) initPublishers(cfg *config.Config) error {
	g.publishers = append([]ports.EventPublisher(nil), g.events...)

	if g.audit == nil && cfg.Storage.Type == "sqlite" {
		store, err := sqlite.NewProvider(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.audit = store
		g.ownsAudit = true
		g.logger.Info("audit storage opened", slog.String("path", cfg.Storage.SQLite.Path))
	}

	if g.audit != nil {
		pub, err := direct.NewPublisher(g.audit)
		if err != nil {
			return fmt.Errorf("create audit publisher: %w", err)
		}
		g.publishers = append(g.publishers, pub)
	}

	if cfg.Webhook.URL != "" {
		pub, err := webhook.NewPublisher(webhook.Config{
			URL:     cfg.Webhook.URL,
			Timeout: cfg.Webhook.Timeout,
			Retries: cfg.Webhook.Retries,
			Headers: cfg.Webhook.Headers,
			Logger:  g.logger,
		})
		if err != nil {
			return fmt.Errorf("create webhook publisher: %w", err)
		}
		g.publishers = append(g.publishers, pub)
		g.logger.Info("webhook notifications enabled")
	}

	return nil
}

func (g *Gateway) initBroker(cfg *config.Config) {
	opts := []broker.Option{
		broker.WithLogger(g.logger),
		broker.WithMaxPending(cfg.Broker.MaxPendingPerConversation),
		broker.WithDefaultTTL(cfg.Broker.DefaultTTL),
	}
	if g.clock != nil {
		opts = append(opts, broker.WithClock(g.clock))
	}
	for _, pub := range g.publishers {
		opts = append(opts, broker.WithPublisher(pub))
	}

	g.broker = broker.New(opts...)
	g.broadcast = gateway.New(g.broker, g.logger)
	g.broker.AddPublisher(g.broadcast)
}

func (g *Gateway) initPolicy(cfg *config.Config) {
	if g.policy != nil {
		return
	}
	if cfg.RateLimit.Enabled {
		g.limiter = ratelimit.NewPolicy(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
		g.policy = g.limiter
		return
	}
	g.logger.Info("rate limiting disabled, using basic policy")
	g.policy = basic.NewPolicy()
}

// initAuth builds the API key provider from config unless one was injected.
// With no keys configured every caller is admitted.
func (g *Gateway) initAuth(cfg *config.Config) {
	if g.auth != nil {
		return
	}
	g.keys = apikey.NewStaticProvider(cfg.Auth.APIKeys)
	g.auth = &openWhenEmpty{keys: g.keys}
	if !g.keys.Enabled() {
		g.logger.Info("no api keys configured, running without authentication")
	}
}

// startServer mounts the routes and begins serving in the background.
func (g *Gateway) startServer(cfg *config.Config) error {
	srv := server.New(cfg.Server.Port, g.logger, cfg.Telemetry.ServiceName)

	requester := decisions.NewRequester(g.broker, g.policy, g.logger)
	g.permissions = permission.NewService(requester, permission.Config{
		Options:   decisions.Options(cfg.Interactions.Permission),
		CacheSize: cfg.PermissionsCache.Size,
		CacheTTL:  cfg.PermissionsCache.TTL,
		Logger:    g.logger,
	})

	var limiter api.Forgetter
	if g.limiter != nil {
		limiter = g.limiter
	}

	apiServer := api.NewServer(api.Deps{
		Broker:         g.broker,
		Gateway:        g.broadcast,
		Permissions:    g.permissions,
		Plans:          plan.NewService(requester, decisions.Options(cfg.Interactions.PlanApproval), g.logger),
		Questions:      askuser.NewService(requester, decisions.Options(cfg.Interactions.AskUser)),
		Audit:          g.audit,
		Limiter:        limiter,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         g.logger,
	})

	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	srv.Router.Handle("/metrics", promhttp.Handler())
	srv.Router.Handle("/ws", ws.NewHandler(g.broadcast, ws.Options{
		Auth:         g.auth,
		SendBuffer:   cfg.Transport.SendBuffer,
		WriteTimeout: cfg.Transport.WriteTimeout,
		Logger:       g.logger,
	}))
	srv.Router.With(g.apiAuth).Mount("/api", apiServer)

	if g.listener == nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		g.listener = ln
	}

	g.server = srv
	g.serveErr = make(chan error, 1)
	go func(ln net.Listener) {
		err := srv.Serve(ln)
		if err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
		g.serveErr <- err
	}(g.listener)

	return nil
}

// apiAuth requires a bearer key on /api once any key is configured.
func (g *Gateway) apiAuth(next http.Handler) http.Handler {
	authed := server.AuthMiddleware(g.auth)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.keys != nil && !g.keys.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

// openWhenEmpty admits every caller while no API key is configured, so keys
// added by a config reload take effect without a restart.
type openWhenEmpty struct {
	keys *apikey.Provider
}

func (a *openWhenEmpty) Authenticate(ctx context.Context, token string) (*ports.AuthContext, error) {
	if !a.keys.Enabled() {
		return &ports.AuthContext{Subject: "anonymous"}, nil
	}
	return a.keys.Authenticate(ctx, token)
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
