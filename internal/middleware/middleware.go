// Package middleware provides the Gin middleware stack for the generation
// API: CORS, request logging, panic recovery, and API key admission. The
// shape of each handler (CORS origin allowlist, status-tiered logging,
// recover-then-500) is grounded on cerebra's internal/middleware/middleware.go;
// the admission logic itself lives in internal/apikeys and is only invoked
// here, since SPEC_FULL §4.9's rules are independently unit-tested there.
package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/internal/apikeys"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// CORS returns a Gin middleware handler that sets CORS headers for the
// configured origin allowlist, handling preflight OPTIONS requests inline.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		originsMap[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowAll || originsMap[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Logging returns a Gin middleware handler that logs method, path, status,
// latency, and client IP, tiering the log level by status code the way
// cerebra's LoggingMiddleware does.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		switch {
		case status >= 500:
			log.Printf("[ERROR] %s %s | %d | %v | %s | errors: %s",
				c.Request.Method, path, status, latency, c.ClientIP(), c.Errors.ByType(gin.ErrorTypePrivate).String())
		case status >= 400:
			log.Printf("[WARN]  %s %s | %d | %v | %s", c.Request.Method, path, status, latency, c.ClientIP())
		default:
			log.Printf("[INFO]  %s %s | %d | %v | %s", c.Request.Method, path, status, latency, c.ClientIP())
		}
	}
}

// Recovery returns a Gin middleware that recovers from panics in downstream
// handlers and returns a generic 500 instead of crashing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] recovered from panic: %v", err)
				WriteError(c, apierror.New(apierror.CodeGeneration, "an unexpected error occurred"))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// contextKeyAPIKey is the gin.Context key the resolved API key is stored
// under by Auth, for downstream handlers to read via APIKeyFrom.
const contextKeyAPIKey = "medgen_api_key"

// Auth resolves and admits the caller's API key (SPEC_FULL §4.9 rules 1-4)
// before the request reaches a handler. requestedPatients extracts the
// patient count a handler's body declares, so rules 2 and 4 (per-request
// caps) can run before any work is done; handlers that don't generate
// patients (job lookups, downloads) pass a func returning 0.
func Auth(auth *apikeys.Authenticator, requestedPatients func(c *gin.Context) int) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := apikeys.ExtractKey(c.GetHeader("X-API-Key"), c.GetHeader("Authorization"))

		key, err := auth.Resolve(c.Request.Context(), raw)
		if err != nil {
			WriteError(c, err)
			c.Abort()
			return
		}

		patients := 0
		if requestedPatients != nil {
			patients = requestedPatients(c)
		}
		if admitErr := auth.Admit(c.Request.Context(), key, patients); admitErr != nil {
			WriteError(c, admitErr)
			c.Abort()
			return
		}

		c.Set(contextKeyAPIKey, key)
		c.Next()
	}
}

// APIKeyFrom returns the API key resolved by Auth for this request.
func APIKeyFrom(c *gin.Context) *models.APIKey {
	v, ok := c.Get(contextKeyAPIKey)
	if !ok {
		return nil
	}
	key, _ := v.(*models.APIKey)
	return key
}

// WriteError renders an apierror.Error (or a generic wrapped error) as the
// standard {error:{code,message,details}} JSON body with the matching HTTP
// status code.
func WriteError(c *gin.Context, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.New(apierror.CodeGeneration, err.Error())
	}
	c.JSON(statusFor(apiErr.Code), gin.H{
		"error": gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
			"details": apiErr.Details,
		},
	})
}

func statusFor(code apierror.Code) int {
	switch code {
	case apierror.CodeValidation:
		return http.StatusUnprocessableEntity
	case apierror.CodeUnauthorized:
		return http.StatusUnauthorized
	case apierror.CodeRateLimited:
		return http.StatusTooManyRequests
	case apierror.CodeQuotaExceeded:
		return http.StatusForbidden
	case apierror.CodeNotFound:
		return http.StatusNotFound
	case apierror.CodeConflict:
		return http.StatusConflict
	case apierror.CodeStorage, apierror.CodeGeneration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
