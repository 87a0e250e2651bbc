package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aimerfeng/BioLink/internal/account"
	"github.com/aimerfeng/BioLink/internal/auth"
	apierrors "github.com/aimerfeng/BioLink/internal/errors"
	"github.com/aimerfeng/BioLink/internal/logging"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Context keys for storing request identity
const (
	ContextKeyUserID   = "user_id"
	ContextKeyEmail    = "email"
	ContextKeyClaims   = "claims"
	ContextKeyTier     = "tier"
	ContextKeyAPIKey   = "api_key"
	ContextKeyAPIKeyID = "api_key_id"
)

// JWTAuthenticator guards dashboard routes with access tokens
type JWTAuthenticator struct {
	tokens *auth.Service
}

// NewJWTAuthenticator creates a new JWT authenticator
func NewJWTAuthenticator(tokens *auth.Service) *JWTAuthenticator {
	return &JWTAuthenticator{
		tokens: tokens,
	}
}

// JWTAuth creates a middleware that validates JWT tokens from the Authorization header
// It extracts the Bearer token, validates it, and sets user information in the context
func (j *JWTAuthenticator) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			RespondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		claims, err := j.tokens.ValidateAccessToken(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				RespondWithError(c, apierrors.ErrTokenExpiredError)
			} else {
				RespondWithError(c, apierrors.ErrUnauthorizedError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyClaims, claims)

		c.Next()
	}
}

// ResolveTier loads the caller's current tier from the account store.
// It must run after JWTAuth or APIKeyAuth.
func ResolveTier(resolver account.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			RespondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		t, err := resolver.Tier(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, account.ErrUserNotFound) {
				logging.LogSecurityEvent("unknown_account", userID.String(), c.ClientIP(), "credential for a user that no longer exists")
				RespondWithError(c, apierrors.ErrUnauthorizedError)
			} else {
				log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to resolve user tier")
				RespondWithError(c, apierrors.ErrInternalServerError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyTier, t)
		c.Next()
	}
}

// extractBearerToken extracts the token from a Bearer authorization header
func extractBearerToken(authHeader string) (string, bool) {
	const bearerPrefix = "Bearer "
	if len(authHeader) <= len(bearerPrefix) {
		return "", false
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	return token, token != ""
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, err *apierrors.APIError) {
	reqIDStr := c.GetString("request_id")
	corrIDStr := c.GetString("correlation_id")
	if corrIDStr == "" {
		corrIDStr = reqIDStr
	}

	response := apierrors.NewErrorResponse(
		err,
		reqIDStr,
		corrIDStr,
		c.Request.URL.Path,
		c.Request.Method,
	)

	c.JSON(err.HTTPStatus, response)
}

// GetUserID returns the authenticated user's id
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(ContextKeyUserID))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// GetTier returns the tier set by ResolveTier, or the free tier if none was set
func GetTier(c *gin.Context) tier.Tier {
	if t, ok := c.Get(ContextKeyTier); ok {
		if tt, ok := t.(tier.Tier); ok {
			return tt
		}
	}
	return tier.Free
}

// GetEmailFromContext extracts the email from the gin context
// Returns empty string if not found
func GetEmailFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}

// GetClaimsFromContext extracts the full claims from the gin context
// Returns nil if not found
func GetClaimsFromContext(c *gin.Context) *auth.Claims {
	claims, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	return claims.(*auth.Claims)
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CorrelationID adds a correlation ID for distributed tracing
// The correlation ID is used to trace requests across multiple services
// It can be passed from upstream services or generated if not present
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = c.GetString("request_id")
			if correlationID == "" {
				correlationID = uuid.New().String()
			}
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// GetCorrelationIDFromContext extracts the correlation ID from the gin context
// Returns empty string if not found
func GetCorrelationIDFromContext(c *gin.Context) string {
	return c.GetString("correlation_id")
}

// GetRequestIDFromContext extracts the request ID from the gin context
// Returns empty string if not found
func GetRequestIDFromContext(c *gin.Context) string {
	return c.GetString("request_id")
}

// CORS configures CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Correlation-ID, X-API-Key")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After, Content-Disposition")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
