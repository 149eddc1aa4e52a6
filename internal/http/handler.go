package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/notify"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/report"
	"go.uber.org/zap"
)

// Guardian 本地 API 依赖的守护服务能力（service.GuardianService 实现）
type Guardian interface {
	SetSession(id int64, token string) error
	UserID() (int64, error)
	Status(ctx context.Context) notify.State
	StartTracking(ctx context.Context) error
	StopTracking(ctx context.Context)
	TriggerEmergency(ctx context.Context) (models.DeliveryStatus, error)
	ApplySettings(settings models.Settings) error
	SetNetwork(online bool)
	Journal(ctx context.Context, limit int) ([]models.JournalEntry, error)
}

// HandlerConfig 本地 API 配置
type HandlerConfig struct {
	AllowRawUserID bool
	ReportLocation *time.Location // 导出时间所用时区，nil 表示 UTC
}

// Handler 本地 API：UI / 认证 / 设置协作方通过它驱动守护服务
type Handler struct {
	guardian Guardian
	sessions *SessionVerifier
	config   HandlerConfig
	logger   *zap.Logger
}

// NewHandler 创建 Handler
func NewHandler(guardian Guardian, sessions *SessionVerifier, cfg HandlerConfig, logger *zap.Logger) *Handler {
	return &Handler{
		guardian: guardian,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
	}
}

type sessionRequest struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

type sessionResponse struct {
	UserID int64 `json:"user_id"`
}

// CreateSession POST /session
//
// 请求体二选一：
//   - {"token": "<jwt>"}：配置了密钥时校验 HS256 签名，取 user_id claim；token 同时作为上报 Bearer
//   - {"user_id": 42, "token": "<opaque>"}：未配置密钥时的明文登录，仅在允许明文 user_id 时接受
func (h *Handler) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail("invalid body"))
		return
	}

	var userID int64
	switch {
	case req.Token != "" && h.sessions.Enabled():
		id, err := h.sessions.Verify(req.Token)
		if err != nil {
			h.logger.Warn("Session token rejected", zap.Error(err))
			c.JSON(http.StatusUnauthorized, Fail("invalid session token"))
			return
		}
		if req.UserID > 0 && req.UserID != id {
			c.JSON(http.StatusUnauthorized, Fail("user_id does not match session token"))
			return
		}
		userID = id
	case req.UserID > 0:
		if !h.config.AllowRawUserID {
			c.JSON(http.StatusForbidden, Fail(ErrRawUserIDDisabled.Error()))
			return
		}
		userID = req.UserID
	default:
		c.JSON(http.StatusBadRequest, Fail("token or user_id is required"))
		return
	}

	if err := h.guardian.SetSession(userID, req.Token); err != nil {
		c.JSON(statusFor(err), Fail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, Ok(sessionResponse{UserID: userID}))
}

// GetStatus GET /status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Ok(h.guardian.Status(c.Request.Context())))
}

// StartTracking POST /tracking/start
func (h *Handler) StartTracking(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.guardian.StartTracking(ctx); err != nil {
		h.logger.Warn("Tracking start refused", zap.Error(err))
		c.JSON(statusFor(err), Result[notify.State]{
			Code:    ResultError,
			Type:    "error",
			Message: notify.PermissionMessage(err),
			Result:  h.guardian.Status(ctx),
		})
		return
	}
	c.JSON(http.StatusOK, Ok(h.guardian.Status(ctx)))
}

// StopTracking POST /tracking/stop
func (h *Handler) StopTracking(c *gin.Context) {
	ctx := c.Request.Context()
	h.guardian.StopTracking(ctx)
	c.JSON(http.StatusOK, Ok(h.guardian.Status(ctx)))
}

type emergencyResponse struct {
	Status models.DeliveryStatus `json:"status"`
	Sent   bool                  `json:"sent"`
}

// TriggerEmergency POST /emergency
func (h *Handler) TriggerEmergency(c *gin.Context) {
	status, err := h.guardian.TriggerEmergency(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), Fail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, Ok(emergencyResponse{Status: status, Sent: true}))
}

// UpdateSettings PUT /settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var settings models.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if err := h.guardian.ApplySettings(settings); err != nil {
		c.JSON(statusFor(err), Fail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, Ok(settings))
}

type networkRequest struct {
	Online *bool `json:"online"`
}

// SetNetwork POST /network
func (h *Handler) SetNetwork(c *gin.Context) {
	var req networkRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		c.JSON(http.StatusBadRequest, Fail("online is required"))
		return
	}
	h.guardian.SetNetwork(*req.Online)
	c.JSON(http.StatusOK, Ok(h.guardian.Status(c.Request.Context())))
}

// ExportJournal GET /journal.xlsx?limit=N
func (h *Handler) ExportJournal(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, Fail("invalid limit"))
		return
	}

	entries, err := h.guardian.Journal(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read delivery journal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Fail("failed to read journal"))
		return
	}

	var buf bytes.Buffer
	if err := report.WriteJournalXLSX(&buf, entries, h.config.ReportLocation); err != nil {
		h.logger.Error("Failed to export delivery journal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Fail("failed to export journal"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="linkuy-journal.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUserNotSet), errors.Is(err, models.ErrSensorUnavailable):
		return http.StatusPreconditionFailed
	case errors.Is(err, models.ErrInvalidPayload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
