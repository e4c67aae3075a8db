package admin

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"biogate-server-go/internal/gateway/registry"
	"biogate-server-go/internal/lifecycle"
	"biogate-server-go/internal/platform/config"
	"biogate-server-go/internal/platform/logging"
	"biogate-server-go/internal/platform/storage"
	httptransport "biogate-server-go/internal/transport/http"
)

const logTag = "HTTP"

// Service exposes the operator API: login, gateway status and control, and
// visibility into the retry queue.
type Service struct {
	cfg        *config.Config
	logger     *logging.Logger
	controller *lifecycle.Controller
	registry   *registry.Registry
	queue      storage.CheckinQueueRepository
	token      *OperatorToken
	startedAt  time.Time
}

func NewService(cfg *config.Config, logger *logging.Logger, controller *lifecycle.Controller,
	reg *registry.Registry, queue storage.CheckinQueueRepository) *Service {
	return &Service{
		cfg:        cfg,
		logger:     logger,
		controller: controller,
		registry:   reg,
		queue:      queue,
		token:      NewOperatorToken(cfg.Server.Auth.JWTSecret).WithTTL(cfg.Server.Auth.TokenExpiry),
		startedAt:  time.Now(),
	}
}

// Token exposes the verifier for the auth middleware.
func (s *Service) Token() *OperatorToken {
	return s.token
}

// RegisterRoutes mounts the admin endpoints. Everything except login sits
// behind the auth middleware.
func (s *Service) RegisterRoutes(router *httptransport.Router) {
	router.API.POST("/auth/login", s.handleLogin)

	secured := router.Secured
	if secured == nil {
		secured = router.API
	}
	secured.GET("/status", s.handleStatus)
	secured.POST("/server/start", s.handleStart)
	secured.POST("/server/stop", s.handleStop)
	secured.POST("/server/restart", s.handleRestart)
	secured.GET("/devices", s.handleDevices)
	secured.GET("/checkins/pending", s.handlePendingCheckins)
	secured.GET("/checkins/failed", s.handleFailedCheckins)
}

type loginRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

func (s *Service) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "access_token is required", nil)
		return
	}

	expected := s.cfg.Server.Auth.AccessToken
	if expected == "" ||
		subtle.ConstantTimeCompare([]byte(req.AccessToken), []byte(expected)) != 1 {
		s.logger.WarnTag(logTag, "rejected operator login from %s", c.ClientIP())
		httptransport.RespondError(c, http.StatusUnauthorized, "invalid access token", nil)
		return
	}

	tokenString, err := s.token.Generate("operator")
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to issue token", nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"token":      tokenString,
		"expires_in": int(s.cfg.Server.Auth.TokenExpiry.Seconds()),
	}, "login successful")
}

func (s *Service) handleStatus(c *gin.Context) {
	pending, err := s.queue.ListPending(c.Request.Context())
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to read retry queue", nil)
		return
	}
	failed, err := s.queue.ListFailed(c.Request.Context())
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to read failed table", nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"state":            string(s.controller.State()),
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
		"devices":          s.registry.Count(),
		"pending_checkins": len(pending),
		"failed_checkins":  len(failed),
	}, "")
}

func (s *Service) handleStart(c *gin.Context) {
	if err := s.controller.Start(); err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"state": string(s.controller.State()),
	}, "gateway started")
}

func (s *Service) handleStop(c *gin.Context) {
	if err := s.controller.Stop(); err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"state": string(s.controller.State()),
	}, "gateway stopped")
}

func (s *Service) handleRestart(c *gin.Context) {
	if err := s.controller.Restart(); err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"state": string(s.controller.State()),
	}, "gateway restarted")
}

func (s *Service) handleDevices(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, s.registry.Snapshot(), "")
}

func (s *Service) handlePendingCheckins(c *gin.Context) {
	pending, err := s.queue.ListPending(c.Request.Context())
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to read retry queue", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, pending, "")
}

func (s *Service) handleFailedCheckins(c *gin.Context) {
	failed, err := s.queue.ListFailed(c.Request.Context())
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to read failed table", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, failed, "")
}
