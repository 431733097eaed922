package app

import (
	"context"
	"net/http"
	"strings"

	"roster-lookup/internal/auth/handler"
	"roster-lookup/internal/auth/policy"
	"roster-lookup/internal/auth/provider/openid"
	"roster-lookup/internal/config"
	"roster-lookup/internal/flow"
	"roster-lookup/internal/middleware"
	"roster-lookup/internal/records"
	"roster-lookup/internal/session"

	"github.com/gin-gonic/gin"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	sessionStore := session.NewRedisStore(infra.Redis.Client)
	catalog := records.NewPostgresCatalog(infra.DB, cfg.RecordsSchema)

	router, err := newRouter(cfg, sessionStore, catalog)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	return router, infra.Close, nil
}

// newRouter wires the sign-in flow on top of the given session store and
// record catalog.
func newRouter(cfg config.Config, sessionStore session.Store, catalog records.Catalog) (*gin.Engine, error) {

	// ----------------------------
	// Dependencies
	// ----------------------------

	openidProvider, err := openid.New(cfg.OpenID.Endpoint, cfg.OpenID.Timeout, cfg.OpenID.Retries)
	if err != nil {
		return nil, err
	}

	access := policy.Policy{
		Enabled:      cfg.Restriction.Enabled,
		Keyword:      cfg.Restriction.Keyword,
		ErrorMessage: cfg.Restriction.ErrorMessage,
	}

	aggregator := records.NewAggregator(catalog, cfg.Site.ExcludedSources)

	controller := flow.NewController(
		openidProvider,
		sessionStore,
		access,
		aggregator,
		flow.Site{
			SchoolName: cfg.Site.SchoolName,
			PageTitle:  cfg.Site.PageTitle,
			BaseURL:    cfg.PublicBaseURL,
		},
	)

	authHandler := handler.NewHandler(
		controller,
		sessionStore,
		session.CookieOptions{
			Secure:   strings.HasPrefix(cfg.PublicBaseURL, "https://"),
			SameSite: http.SameSiteLaxMode,
		},
	)

	authMiddleware := middleware.NewAuthMiddleware(sessionStore)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	// ----------------------------
	// Public Routes
	// ----------------------------

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", func(c *gin.Context) {
		sess, _ := middleware.SessionFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"user":      sess.Identity,
			"expiresAt": sess.ExpiresAt,
		})
	})

	api.GET("/records", func(c *gin.Context) {
		sess, _ := middleware.SessionFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"results": aggregator.Lookup(c.Request.Context(), sess.Identity.LookupKey()),
		})
	})

	return router, nil
}
