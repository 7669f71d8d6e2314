package directory

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-p2p/internal/identity"
)

// RegisterRequest is the body of PUT /v1/peers/:id.
type RegisterRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// LeaseResponse is returned when a lease is granted or refreshed.
type LeaseResponse struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	LeaseToken string    `json:"leaseToken"`
	ExpiresAt  time.Time `json:"expiresAt"`
	TTLSeconds int64     `json:"ttlSeconds"`
}

// PeerResponse is returned by lookups.
type PeerResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server serves the directory HTTP API.
type Server struct {
	registry *Registry
	signer   *LeaseSigner
	limiter  *rateLimiter
	engine   *gin.Engine
	log      *zerolog.Logger
}

// NewServer builds the router. registerLimit caps registrations per minute; zero disables it.
func NewServer(registry *Registry, signer *LeaseSigner, registerLimit int, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		registry: registry,
		signer:   signer,
		limiter:  newRateLimiter(registerLimit),
		engine:   gin.New(),
		log:      logger,
	}

	s.engine.Use(gin.Recovery(), LoggerMiddleware(logger))
	s.engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	peers := s.engine.Group("/v1/peers")
	peers.GET("/:id", s.lookup)
	peers.PUT("/:id", s.register)

	leased := peers.Group("", LeaseMiddleware(signer, logger))
	leased.POST("/:id/refresh", s.refresh)
	leased.DELETE("/:id", s.release)

	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Run sweeps expired leases and resets the rate limiter until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.limiter.startReset(ctx.Done())

	interval := s.registry.TTL() / 2
	if interval <= 0 {
		interval = time.Second
	}
	s.registry.Run(ctx, interval)
}

// register handles PUT /v1/peers/:id.
func (s *Server) register(c *gin.Context) {
	id := c.Param("id")
	if identity.Normalize(id) != id || len(id) < identity.MinIDLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid peer id"})
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if !s.limiter.allow() {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		return
	}

	rec, err := s.registry.Register(id, req.URL)
	if err != nil {
		if errors.Is(err, ErrTaken) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "peer id taken"})
			return
		}
		s.log.Error().Err(err).Str("peer_id", id).Msg("failed to register peer")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp, err := s.leaseResponse(rec)
	if err != nil {
		_ = s.registry.Release(rec.ID, rec.LeaseID)
		s.log.Error().Err(err).Str("peer_id", id).Msg("failed to sign lease")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	s.log.Info().Str("peer_id", id).Str("url", rec.URL).Msg("peer registered")
	c.JSON(http.StatusCreated, resp)
}

// refresh handles POST /v1/peers/:id/refresh.
func (s *Server) refresh(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.registry.Refresh(id, c.GetString(contextKeyLeaseID))
	if err != nil {
		s.writeLeaseError(c, err)
		return
	}

	resp, err := s.leaseResponse(rec)
	if err != nil {
		s.log.Error().Err(err).Str("peer_id", id).Msg("failed to sign lease")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// release handles DELETE /v1/peers/:id.
func (s *Server) release(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.Release(id, c.GetString(contextKeyLeaseID)); err != nil {
		s.writeLeaseError(c, err)
		return
	}
	s.log.Info().Str("peer_id", id).Msg("peer released")
	c.Status(http.StatusNoContent)
}

// lookup handles GET /v1/peers/:id.
func (s *Server) lookup(c *gin.Context) {
	rec, err := s.registry.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "peer not found"})
		return
	}
	c.JSON(http.StatusOK, PeerResponse{ID: rec.ID, URL: rec.URL})
}

func (s *Server) leaseResponse(rec Record) (LeaseResponse, error) {
	token, err := s.signer.Issue(rec)
	if err != nil {
		return LeaseResponse{}, err
	}
	return LeaseResponse{
		ID:         rec.ID,
		URL:        rec.URL,
		LeaseToken: token,
		ExpiresAt:  rec.ExpiresAt,
		TTLSeconds: int64(s.registry.TTL() / time.Second),
	}, nil
}

func (s *Server) writeLeaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "lease expired"})
	case errors.Is(err, ErrLeaseMismatch):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "lease superseded"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
