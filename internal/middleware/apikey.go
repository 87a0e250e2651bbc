package middleware

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aimerfeng/BioLink/internal/apikey"
	apierrors "github.com/aimerfeng/BioLink/internal/errors"
	"github.com/aimerfeng/BioLink/internal/logging"
	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// KeyValidator is the part of the API key service the middleware needs
type KeyValidator interface {
	Validate(ctx context.Context, presented string) (*apikey.ValidationResult, error)
	LogRequest(ctx context.Context, entry apikey.RequestLogEntry)
}

// APIKeyAuthenticator guards the external API with API keys
type APIKeyAuthenticator struct {
	keys     KeyValidator
	throttle *FailureThrottle
}

// NewAPIKeyAuthenticator creates the authenticator. throttle may be nil.
func NewAPIKeyAuthenticator(keys KeyValidator, throttle *FailureThrottle) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys, throttle: throttle}
}

// extractAPIKey reads X-API-Key, then the Authorization bearer token
func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	token, _ := extractBearerToken(c.GetHeader("Authorization"))
	return token
}

// APIKeyAuth validates the presented key, enforces its rate limit and, once
// the handler has run, appends a request log entry. Rejected requests are not
// logged and so never count against the key's window.
func (a *APIKeyAuthenticator) APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ip := c.ClientIP()

		presented := extractAPIKey(c)
		if presented == "" {
			RespondWithError(c, apierrors.ErrMissingAPIKeyError)
			c.Abort()
			return
		}

		if a.throttle.Blocked(ip) {
			logging.LogSecurityEvent("api_key_throttled", "", ip, "too many invalid API key attempts")
			RespondWithError(c, apierrors.ErrTooManyFailuresError)
			c.Abort()
			return
		}

		result, err := a.keys.Validate(c.Request.Context(), presented)
		if err != nil {
			log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("API key validation failed")
			RespondWithError(c, apierrors.ErrInternalServerError)
			c.Abort()
			return
		}

		if !result.Valid {
			switch result.Error {
			case apikey.MsgRateLimited:
				setRateLimitHeaders(c, result.RateLimit)
				seconds := int64(math.Ceil(result.RateLimit.RetryAfter.Seconds()))
				c.Header("Retry-After", strconv.FormatInt(seconds, 10))
				RespondWithError(c, apierrors.NewRateLimitError(seconds))
			case apikey.MsgExpiredKey:
				a.throttle.Fail(ip)
				logging.LogSecurityEvent("api_key_expired", "", ip, logging.MaskKey(presented, 12))
				RespondWithError(c, apierrors.ErrAPIKeyExpiredError)
			default:
				a.throttle.Fail(ip)
				logging.LogSecurityEvent("api_key_invalid", "", ip, logging.MaskKey(presented, 12))
				RespondWithError(c, apierrors.ErrInvalidAPIKeyError)
			}
			c.Abort()
			return
		}

		key := result.APIKey
		setRateLimitHeaders(c, result.RateLimit)
		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyAPIKeyID, key.ID.String())
		c.Set(ContextKeyUserID, key.UserID.String())

		c.Next()

		entry := apikey.RequestLogEntry{
			APIKeyID:     key.ID,
			Endpoint:     endpointOf(c),
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ResponseTime: time.Since(start),
		}
		if last := c.Errors.Last(); last != nil {
			entry.ErrorMessage = last.Error()
		}
		a.keys.LogRequest(context.WithoutCancel(c.Request.Context()), entry)
	}
}

func endpointOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func setRateLimitHeaders(c *gin.Context, rl *apikey.RateLimitStatus) {
	if rl == nil {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(rl.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
}

// RequirePermission rejects API key requests whose key lacks action on resource.
// It must run after APIKeyAuth.
func RequirePermission(resource models.Resource, action models.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetAPIKey(c)
		if key == nil {
			RespondWithError(c, apierrors.ErrMissingAPIKeyError)
			c.Abort()
			return
		}
		if !key.Permissions.Allows(resource, action) {
			RespondWithError(c, apierrors.NewInsufficientPermissionsError(string(resource), string(action)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the key authenticated by APIKeyAuth, or nil
func GetAPIKey(c *gin.Context) *models.APIKey {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil
	}
	key, _ := v.(*models.APIKey)
	return key
}
