package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aimerfeng/BioLink/internal/account"
	"github.com/aimerfeng/BioLink/internal/analytics"
	"github.com/aimerfeng/BioLink/internal/apikey"
	"github.com/aimerfeng/BioLink/internal/auth"
	"github.com/aimerfeng/BioLink/internal/cache"
	"github.com/aimerfeng/BioLink/internal/config"
	apierrors "github.com/aimerfeng/BioLink/internal/errors"
	"github.com/aimerfeng/BioLink/internal/logging"
	"github.com/aimerfeng/BioLink/internal/middleware"
	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/aimerfeng/BioLink/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HealthCheck is a named dependency probe reported by /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Services are the domain services the HTTP surface exposes
type Services struct {
	Keys      *apikey.Service
	Analytics *analytics.Service
	Tracker   *analytics.Tracker
	Accounts  account.Resolver
	Tokens    *auth.Service
	// Throttle may be nil to disable the credential failure throttle
	Throttle *middleware.FailureThrottle
	// Breakers may be nil when Redis is not configured
	Breakers *cache.BreakerManager
	Health   []HealthCheck
}

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	svc              Services
	jwtAuthenticator *middleware.JWTAuthenticator
	keyAuthenticator *middleware.APIKeyAuthenticator
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, svc Services) *APIServer {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		svc:              svc,
		jwtAuthenticator: middleware.NewJWTAuthenticator(svc.Tokens),
		keyAuthenticator: middleware.NewAPIKeyAuthenticator(svc.Keys, svc.Throttle),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	// Port 0 serves metrics from the API listener instead of a dedicated one
	if s.config.Monitoring.PrometheusEnabled && s.config.Monitoring.PrometheusPort == 0 {
		s.router.GET("/metrics", monitoring.GinHandler())
	}

	v1 := s.router.Group("/api/v1")
	{
		// Dashboard routes (JWT)
		dashboard := v1.Group("")
		dashboard.Use(s.jwtAuthenticator.JWTAuth())
		dashboard.Use(middleware.ResolveTier(s.svc.Accounts))

		keys := dashboard.Group("/keys")
		{
			keys.GET("", s.handleListKeys)
			keys.POST("", s.handleCreateKey)
			keys.GET("/:id", s.handleGetKey)
			keys.PATCH("/:id", s.handleUpdateKey)
			keys.DELETE("/:id", s.handleDeleteKey)
			keys.GET("/:id/stats", s.handleKeyStats)
		}

		analyticsGroup := dashboard.Group("/analytics")
		{
			analyticsGroup.GET("/overview", s.handleOverview)
			analyticsGroup.GET("/daily", s.handleDaily)
			analyticsGroup.GET("/links", s.handleLinks)
			analyticsGroup.GET("/referrers", s.handleReferrers)
			analyticsGroup.GET("/export", s.handleExport)
		}

		// Public ingestion routes
		track := v1.Group("/track")
		{
			track.POST("/view", s.handleTrackView)
			track.POST("/click", s.handleTrackClick)
			track.POST("/follow", s.handleTrackFollow)
		}

		// External API (API keys)
		external := v1.Group("/external")
		external.Use(s.keyAuthenticator.APIKeyAuth())
		{
			external.GET("/me", s.handleExternalMe)

			ext := external.Group("/analytics")
			ext.Use(middleware.RequirePermission(models.ResourceAnalytics, models.ActionRead))
			ext.Use(middleware.ResolveTier(s.svc.Accounts))
			{
				ext.GET("/overview", s.handleOverview)
				ext.GET("/daily", s.handleDaily)
				ext.GET("/links", s.handleLinks)
				ext.GET("/referrers", s.handleReferrers)
			}
		}
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(s.svc.Health))
	for _, h := range s.svc.Health {
		if err := h.Check(ctx); err != nil {
			checks[h.Name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[h.Name] = "ok"
	}

	body := gin.H{
		"status":  status,
		"service": "api",
		"checks":  checks,
	}
	if s.svc.Breakers != nil {
		body["circuit_breakers"] = s.svc.Breakers.AllStatus()
	}
	c.JSON(code, body)
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	middleware.RespondWithError(c, err)
}

// respondServiceError maps a domain error onto the API error envelope.
// Unexpected errors are logged and reported as 500 without detail.
func respondServiceError(c *gin.Context, err error) {
	var quota *apikey.QuotaExceededError
	var tierErr *analytics.TierRequiredError

	switch {
	case errors.As(err, &quota):
		respondError(c, apierrors.NewKeyLimitError(quota.Error(), string(quota.Tier), quota.Limit))
	case errors.As(err, &tierErr):
		respondError(c, apierrors.NewTierRequiredError(tierErr.Error(), string(tierErr.Required)))
	case errors.Is(err, apikey.ErrKeyNotFound):
		respondError(c, apierrors.ErrAPIKeyNotFoundError)
	case errors.Is(err, apikey.ErrNameRequired),
		errors.Is(err, apikey.ErrNameTooLong),
		errors.Is(err, apikey.ErrInvalidRateLimit),
		errors.Is(err, apikey.ErrInvalidExpiry),
		errors.Is(err, apikey.ErrInvalidDays):
		respondError(c, apierrors.NewValidationError(err.Error()))
	case errors.Is(err, analytics.ErrUnsupportedFormat),
		errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, analytics.ErrRangeTooLarge):
		respondError(c, apierrors.NewInvalidRequestError(err.Error()))
	case errors.Is(err, analytics.ErrLinkNotFound):
		respondError(c, apierrors.ErrNotFoundError.WithMessage("Link not found"))
	case errors.Is(err, account.ErrUserNotFound):
		respondError(c, apierrors.ErrUserNotFoundError)
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		logging.LogError(err, c.GetString("request_id"), "server", c.FullPath())
		respondError(c, apierrors.ErrInternalServerError)
	}
	_ = c.Error(err)
}

// currentUser returns the authenticated user, writing a 401 if absent
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		respondError(c, apierrors.ErrUnauthorizedError)
		return uuid.Nil, false
	}
	return userID, true
}

// pathUUID parses a uuid path parameter, writing a 404 if malformed
func pathUUID(c *gin.Context, name string, notFound *apierrors.APIError) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, notFound)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(c, apierrors.NewValidationError(map[string]string{name: "must be an integer"}))
		return 0, false
	}
	return v, true
}
