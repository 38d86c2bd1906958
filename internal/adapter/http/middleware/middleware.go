package middleware

import (
	"net/http"
	"strings"
	"time"

	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"
	"checkout-core/pkg/apperror"
	"checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// HeaderSessionToken identifies a guest cart session.
	HeaderSessionToken = "X-Session-Token"

	// HeaderIdempotencyKey carries the client idempotency key on POSTs.
	HeaderIdempotencyKey = "Idempotency-Key"

	// Context keys
	CtxRequestID      = "request_id"
	CtxUserID         = "user_id"
	CtxUserEmail      = "user_email"
	CtxActor          = "actor"
	CtxSessionToken   = "session_token"
	CtxIdempotencyKey = "idempotency_key"
)

// RequestID assigns every request a UUID and echoes it in the X-Request-ID
// response header. The response envelope reads it from the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// ActorAuth resolves the calling actor for cart routes. A bearer token, when
// present, must validate and yields an authenticated actor. Without one the
// session token header identifies a guest; clients arriving with neither get
// a freshly minted token back in the response header.
func ActorAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			claims, err := validateBearer(tokenSvc, authHeader)
			if err != nil {
				log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("rejected bearer token")
				response.Error(c, apperror.ErrInvalidToken())
				c.Abort()
				return
			}
			c.Set(CtxUserID, claims.UserID)
			c.Set(CtxUserEmail, claims.Email)
			c.Set(CtxActor, domain.UserActor(claims.UserID))
			extractIdempotencyKey(c)
			c.Next()
			return
		}

		token := strings.TrimSpace(c.GetHeader(HeaderSessionToken))
		if token == "" {
			token = uuid.NewString()
			c.Header(HeaderSessionToken, token)
		}
		c.Set(CtxSessionToken, token)
		c.Set(CtxActor, domain.GuestActor(token))
		extractIdempotencyKey(c)
		c.Next()
	}
}

// JWTAuth validates a bearer token and rejects everything else. Transaction
// routes sit behind this; carts additionally accept guests via ActorAuth.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, apperror.ErrAuthRequired())
			c.Abort()
			return
		}

		claims, err := validateBearer(tokenSvc, authHeader)
		if err != nil {
			log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("rejected bearer token")
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserEmail, claims.Email)
		c.Set(CtxActor, domain.UserActor(claims.UserID))
		extractIdempotencyKey(c)
		c.Next()
	}
}

// RequireUser rejects guest actors. Used behind ActorAuth on routes that
// need an authenticated user, such as cart merge.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok || !actor.IsAuthenticated() {
			response.Error(c, apperror.ErrAuthRequired())
			c.Abort()
			return
		}
		c.Next()
	}
}

// ActorFromContext extracts the actor resolved by ActorAuth or JWTAuth.
func ActorFromContext(c *gin.Context) (domain.ActorContext, bool) {
	v, ok := c.Get(CtxActor)
	if !ok {
		return domain.ActorContext{}, false
	}
	actor, ok := v.(domain.ActorContext)
	return actor, ok
}

// IdempotencyKeyFromContext returns the Idempotency-Key header value, if any.
func IdempotencyKeyFromContext(c *gin.Context) string {
	return c.GetString(CtxIdempotencyKey)
}

func validateBearer(tokenSvc ports.TokenService, authHeader string) (*ports.TokenClaims, error) {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix)+1 || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return nil, apperror.ErrInvalidToken()
	}
	return tokenSvc.Validate(authHeader[len(prefix):])
}

func extractIdempotencyKey(c *gin.Context) {
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		c.Set(CtxIdempotencyKey, key)
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID)).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
