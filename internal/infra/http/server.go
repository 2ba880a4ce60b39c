package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medledger/internal/config"
	"medledger/internal/domain"
	"medledger/internal/infra/auth/jwtauth"
	"medledger/internal/infra/policyopa"
	"medledger/internal/infra/ratelimit"
	"medledger/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log zerolog.Logger

	provenance *usecase.ProvenanceService

	authenticator domain.Authenticator
	authorizer    domain.Authorizer
	authInitErr   error

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Provenance    *usecase.ProvenanceService
	Authenticator domain.Authenticator
	Authorizer    domain.Authorizer
	RateLimiter   domain.RateLimiter
	Logger        zerolog.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		r:             r,
		log:           deps.Logger,
		provenance:    deps.Provenance,
		authenticator: deps.Authenticator,
		authorizer:    deps.Authorizer,
	}
	r.Use(requestLogger(s.log))
	s.initRateLimit(deps.RateLimiter)
	s.initAuth()
	s.routes()
	return s
}

func (s *Server) initAuth() {
	if s.cfg.AuthMode == "" {
		s.authInitErr = errors.New("AUTH_MODE is required")
		return
	}
	switch s.cfg.AuthMode {
	case config.AuthModeNone:
		return
	case config.AuthModeHeader:
		s.initAuthorizer()
	case config.AuthModeJWT:
		if s.authenticator == nil {
			authenticator, err := jwtauth.NewAuthenticator(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience, s.cfg.JWTClockSkew())
			if err != nil {
				s.authInitErr = err
				return
			}
			s.authenticator = authenticator
		}
		s.initAuthorizer()
	default:
		s.authInitErr = errors.New("unsupported auth mode")
	}
}

func (s *Server) initAuthorizer() {
	if s.authorizer != nil {
		return
	}
	authorizer, err := policyopa.NewAuthorizer(context.Background())
	if err != nil {
		s.authInitErr = err
		return
	}
	s.authorizer = authorizer
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil)
			if err == nil {
				s.rateLimiter = limiter
			} else {
				s.log.Warn().Err(err).Msg("redis rate limiter unavailable, using memory limiter")
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(s.cfg.RateLimitMaxKeys, nil)
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": s.cfg.LedgerBackend, "auth_mode": s.cfg.AuthMode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/records", s.handleCreateRecord)
		v1.PUT("/records/:record_id", s.handleUpdateRecord)
		v1.POST("/records/:record_id/revoke", s.handleRevokeRecord)
		v1.POST("/records/:record_id/access", s.handleGrantAccess)
		v1.GET("/records/:record_id/verify", s.handleVerifyRecord)
		v1.GET("/records/:record_id/history", s.handleRecordHistory)

		v1.GET("/ledger/info", s.handleLedgerInfo)
		v1.GET("/ledger/blocks/:hash", s.handleBlockByHash)
		v1.POST("/ledger/validate", s.handleValidateLedger)

		v1.GET("/transactions", s.handleTransactions)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	if s.authInitErr != nil {
		return s.authInitErr
	}
	if s.provenance == nil {
		return errors.New("provenance service required")
	}
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.HTTPAddr).Str("auth_mode", s.cfg.AuthMode).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
