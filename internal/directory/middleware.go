package directory

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// contextKeyLeaseID is the gin context key holding the caller's validated lease id.
const contextKeyLeaseID = "lease_id"

// LeaseMiddleware requires a Bearer lease token issued for the :id path parameter.
func LeaseMiddleware(signer *LeaseSigner, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			return
		}

		claims, err := signer.Validate(parts[1])
		if err != nil {
			logger.Debug().Err(err).Msg("invalid lease token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid lease token"})
			return
		}
		if claims.Subject != c.Param("id") {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "lease belongs to another peer"})
			return
		}

		c.Set(contextKeyLeaseID, claims.ID)
		c.Next()
	}
}

// LoggerMiddleware logs every request after it is handled.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
