package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sony/gobreaker/v2"

	"github.com/bobmcallan/toolgate/internal/catalog"
	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/config"
	"github.com/bobmcallan/toolgate/internal/dispatch"
	"github.com/bobmcallan/toolgate/internal/rpc"
	"github.com/bobmcallan/toolgate/internal/telemetry"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// budgetGrace is added to the retry budget so the dispatcher deadline never
// cuts the client's last attempt short.
const budgetGrace = time.Second

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Registry   *dispatch.Registry
	Client     *upstream.Client
	Dispatcher *dispatch.Dispatcher
	RPC        *rpc.Handler
	Telemetry  *telemetry.Providers

	httpClient *http.Client
}

// Option customizes New.
type Option func(*App)

// WithHTTPClient sets the client used for upstream calls and catalog fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// New initializes the application with all dependencies.
func New(ctx context.Context, cfg *config.Config, logger *common.Logger, opts ...Option) (*App, error) {
	a := &App{
		Config:     cfg,
		Logger:     logger,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tools, err := catalog.Load(ctx, a.httpClient, cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	registry, err := dispatch.NewRegistry(catalog.Descriptors(tools, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	a.Registry = registry
	logger.Info().
		Str("source", cfg.Catalog.Path).
		Int("tools", registry.Len()).
		Msg("tool catalog loaded")

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, common.GetVersion())
	if err != nil {
		return nil, err
	}
	a.Telemetry = providers
	observer, err := providers.Observer()
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create telemetry observer: %w", err)
	}

	a.initUpstream(observer)

	a.Dispatcher = dispatch.NewDispatcher(registry, a.Client, upstream.NewStaticResolver(&cfg.Upstream), logger,
		dispatch.WithObserver(observer),
		dispatch.WithBudget(a.Client.Policy().Budget()+budgetGrace),
	)

	a.RPC, err = rpc.NewHandler(a.Dispatcher, registry.Catalog(), rpc.Info{
		Name:    cfg.Server.Name,
		Version: common.GetVersion(),
	}, logger,
		rpc.WithOverrideHeaders(cfg.Upstream.OverrideHeader, cfg.Upstream.BaseURLHeader),
		rpc.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, err
	}

	logger.Info().Msg("application initialization complete")
	return a, nil
}

// initUpstream builds the upstream client and its optional breakers.
func (a *App) initUpstream(observer *telemetry.Observer) {
	cfg := &a.Config.Upstream
	opts := []upstream.Option{
		upstream.WithHTTPClient(a.httpClient),
		upstream.WithObserver(observer),
	}

	if settings := upstream.BreakerSettingsFromConfig(&cfg.Breaker); settings != nil {
		breakers := upstream.NewBreakers(settings, func(endpoint string, from, to gobreaker.State) {
			a.Logger.Warn().
				Str("endpoint", endpoint).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit breaker state changed")
		})
		opts = append(opts, upstream.WithBreakers(breakers))
	}

	a.Client = upstream.NewClient(cfg, a.Logger, opts...)
	policy := a.Client.Policy()
	a.Logger.Debug().
		Str("base_url", cfg.BaseURL).
		Dur("timeout", policy.Timeout).
		Int("max_retries", policy.MaxRetries).
		Dur("budget", policy.Budget()).
		Msg("upstream client initialized")
}

// Close flushes telemetry and releases application resources.
func (a *App) Close(ctx context.Context) error {
	var errs *multierror.Error
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if a.httpClient != nil {
		a.httpClient.CloseIdleConnections()
	}
	return errs.ErrorOrNil()
}
