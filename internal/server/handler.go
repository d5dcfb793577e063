package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/config"
	"github.com/jacksonlee411/loanportal/internal/routing"
	iamports "github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/iam/infrastructure/gotrue"
	iampersistence "github.com/jacksonlee411/loanportal/modules/iam/infrastructure/persistence"
	iamcontrollers "github.com/jacksonlee411/loanportal/modules/iam/presentation/controllers"
	iamservices "github.com/jacksonlee411/loanportal/modules/iam/services"
	lendingports "github.com/jacksonlee411/loanportal/modules/lending/domain/ports"
	lendingpersistence "github.com/jacksonlee411/loanportal/modules/lending/infrastructure/persistence"
	"github.com/jacksonlee411/loanportal/modules/lending/presentation/controllers"
	"github.com/jacksonlee411/loanportal/modules/lending/services"
	"github.com/jacksonlee411/loanportal/pkg/pgrest"
	"github.com/jacksonlee411/loanportal/pkg/ratelimit"
)

const entrypointName = "server"

// DB is the slice of a pgx pool the server needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type HandlerOptions struct {
	Config *config.Config
	Logger *zap.Logger

	// DB backs the REST proxy, the RPC dispatcher and the default stores.
	// Without it the proxy routes are not mounted and stores live in memory.
	DB DB

	LendingStore lendingports.Store
	Profiles     iamports.ProfileStore
	AuthUpstream AuthUpstream

	// Limiters overrides the per-policy limiters. Missing policies get an
	// in-process limiter.
	Limiters map[string]ratelimit.Limiter
}

func NewHandler(opts HandlerOptions) (http.Handler, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("server: missing config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a, err := routing.LoadAllowlist(cfg.Routing.AllowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, entrypointName)
	if err != nil {
		return nil, err
	}
	authorizer, err := loadAuthorizer(cfg.Authz)
	if err != nil {
		return nil, err
	}

	catalog, err := services.LoadCatalog(cfg.Registry.LendingProductsPath)
	if err != nil {
		return nil, err
	}
	templates, err := services.LoadTemplates(cfg.Registry.NotificationTemplatesPath)
	if err != nil {
		return nil, err
	}

	lendingStore := opts.LendingStore
	profiles := opts.Profiles
	if lendingStore == nil {
		if opts.DB != nil {
			lendingStore = lendingpersistence.NewApplicationPGStore(opts.DB)
		} else {
			lendingStore = lendingpersistence.NewMemoryStore()
		}
	}
	if profiles == nil {
		if opts.DB != nil {
			profiles = iampersistence.NewProfilePGStore(opts.DB)
		} else {
			profiles = iampersistence.NewProfileMemoryStore()
		}
	}

	upstream := opts.AuthUpstream
	if upstream == nil && cfg.Auth.UpstreamURL != "" {
		c, err := gotrue.New(cfg.Auth.UpstreamURL, cfg.Auth.UpstreamAPIKey)
		if err != nil {
			return nil, err
		}
		upstream = c
	}

	router := routing.NewRouter(classifier, logger)

	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))

	authAPI{upstream: upstream, profiles: profiles, logger: logger}.Register(router)

	if opts.DB != nil {
		tables, err := pgrest.LoadRegistry(cfg.Registry.RESTTablesPath)
		if err != nil {
			return nil, err
		}
		functions, err := pgrest.LoadFunctions(cfg.Registry.RPCFunctionsPath)
		if err != nil {
			return nil, err
		}
		runner := statementRunner{pool: opts.DB}
		rpcAPI{runner: runner, functions: functions, logger: logger}.Register(router)
		restAPI{runner: runner, tables: tables, logger: logger}.Register(router)
	}

	lending := services.NewService(lendingStore, profileDirectory{profiles: profiles}, catalog, templates)
	controllers.ApplicationsController{Actor: lendingActor, Lending: lending}.Register(router)
	controllers.AdminController{Actor: lendingActor, Lending: lending}.Register(router)
	if admin, ok := profiles.(iamports.ProfileAdminStore); ok {
		iamcontrollers.UsersController{Actor: iamActor, Users: iamservices.NewUserAdmin(admin)}.Register(router)
	}

	if err := checkAllowlisted(a, router); err != nil {
		return nil, err
	}

	limits, err := newRateLimits(cfg.RateLimit, opts.Limiters)
	if err != nil {
		return nil, err
	}
	verifier := newTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)

	var h http.Handler = router
	h = withAuthz(classifier, authorizer, logger, h)
	h = withRoleFloor(classifier, h)
	h = withAuthentication(classifier, verifier, profiles, logger, h)
	h = withRateLimit(classifier, limits, verifier.Subject, logger, h)
	h = withRequestLog(classifier, logger, h)
	return h, nil
}

// checkAllowlisted fails when a handler is mounted on a route the allowlist
// does not declare, so the classifier never guesses a route class.
func checkAllowlisted(a routing.Allowlist, router *routing.Router) error {
	var missing []string
	for _, rt := range router.Routes() {
		if !a.Allows(entrypointName, rt[0], rt[1]) {
			missing = append(missing, rt[0]+" "+rt[1])
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("server: routes missing from allowlist: %v", missing)
	}
	return nil
}

func newRateLimits(cfg config.RateLimitConfig, overrides map[string]ratelimit.Limiter) (rateLimits, error) {
	if !cfg.Enabled {
		return rateLimits{}, nil
	}
	limits := rateLimits{
		policies: cfg.Policies(),
		limiters: make(map[string]ratelimit.Limiter, 3),
	}
	for name, p := range limits.policies {
		if err := p.Validate(); err != nil {
			return rateLimits{}, err
		}
		if l, ok := overrides[name]; ok && l != nil {
			limits.limiters[name] = l
			continue
		}
		limits.limiters[name] = ratelimit.NewMemory(p.Limit, p.Window)
	}
	return limits, nil
}
