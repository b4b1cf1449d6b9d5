package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callrelay/internal/accounts"
	"callrelay/internal/audit"
	"callrelay/internal/auth"
	"callrelay/internal/calls"
	"callrelay/internal/history"
	"callrelay/internal/presence"
	"callrelay/internal/telephony"
	"callrelay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Accounts *accounts.Service
	History  *history.Service
	Presence PresenceLookup
	Calls    SessionLister
	Audit    *audit.Service
}

// PresenceLookup answers presence questions. IsOnline may consult shared storage and
// is informational; Lookup only sees connections this instance can place calls to.
type PresenceLookup interface {
	IsOnline(ctx context.Context, identity string) (bool, error)
	Lookup(identity string) (presence.Conn, bool)
}

type SessionLister interface {
	Sessions() []calls.Session
}

const defaultSummaryWindow = 30 * 24 * time.Hour

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type loginRequest struct {
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Mobile string `json:"mobile"`
	Code   string `json:"code"`
}

type resendRequest struct {
	Mobile string `json:"mobile"`
}

func (h Handlers) Signup(c *gin.Context) {
	if h.Accounts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "accounts not configured"})
		return
	}
	var req accounts.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := h.Accounts.Signup(c.Request.Context(), req)
	if errors.Is(err, accounts.ErrCodeDelivery) {
		// The account exists; the client can ask for a resend.
		h.auditAccount(c, audit.EventTypeSignup, u.Mobile, "verification delivery failed")
		c.JSON(http.StatusAccepted, gin.H{"user": u, "verification": "delivery_failed"})
		return
	}
	if err != nil {
		h.accountError(c, err)
		return
	}
	h.auditAccount(c, audit.EventTypeSignup, u.Mobile, "")
	c.JSON(http.StatusCreated, gin.H{"user": u, "verification": "sent"})
}

// Login issues a token pair to a verified account. Unverified accounts get a new code
// and a 403 so the client can move to the verify step.
func (h Handlers) Login(c *gin.Context) {
	if h.Accounts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "accounts not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Mobile == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mobile and password required"})
		return
	}
	pair, u, err := h.Accounts.Login(c.Request.Context(), req.Mobile, req.Password)
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		subject := req.Mobile
		if canonical, cerr := h.Accounts.Canonicalize(req.Mobile); cerr == nil {
			subject = canonical
		}
		h.auditAccount(c, audit.EventTypeLoginFailed, subject, "invalid credentials")
	}
	if err != nil {
		h.accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Verify(c *gin.Context) {
	if h.Accounts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "accounts not configured"})
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Mobile == "" || req.Code == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mobile and code required"})
		return
	}
	pair, u, err := h.Accounts.ConfirmCode(c.Request.Context(), req.Mobile, req.Code)
	if err != nil {
		h.accountError(c, err)
		return
	}
	h.auditAccount(c, audit.EventTypeVerified, u.Mobile, "")
	c.JSON(http.StatusOK, gin.H{"user": u, "access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Resend(c *gin.Context) {
	if h.Accounts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "accounts not configured"})
		return
	}
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Mobile == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mobile required"})
		return
	}
	if err := h.Accounts.ResendCode(c.Request.Context(), req.Mobile); err != nil {
		h.accountError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"verification": "sent"})
}

func (h Handlers) accountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accounts.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name and a password of at least 8 characters required"})
	case errors.Is(err, accounts.ErrInvalidMobile):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid mobile number"})
	case errors.Is(err, accounts.ErrMobileTaken):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "mobile already registered"})
	case errors.Is(err, accounts.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, accounts.ErrNotVerified):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "mobile not verified", "verification": "sent"})
	case errors.Is(err, accounts.ErrAlreadyVerified):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "mobile already verified"})
	case errors.Is(err, accounts.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, telephony.ErrInvalidCode):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid verification code"})
	case errors.Is(err, accounts.ErrCodeDelivery), errors.Is(err, telephony.ErrProvider):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "verification provider unavailable"})
	default:
		logger.FromGin(c).Error("account request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// auditAccount is best-effort; a failed append is logged and the request continues.
func (h Handlers) auditAccount(c *gin.Context, typ audit.EventType, subject, message string) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogAccount(c.Request.Context(), typ, subject, c.ClientIP(), message); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", typ, "err", err)
	}
}

// --- Me ---

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	mobile, _ := auth.Mobile(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	resp := gin.H{"user_id": uid, "mobile": mobile, "role": role}
	if h.Accounts != nil {
		if u, err := h.Accounts.Get(c.Request.Context(), mobile); err == nil {
			resp["name"] = u.Name
			resp["verified"] = u.Verified
		}
	}
	c.JSON(http.StatusOK, resp)
}

// --- History ---

func (h Handlers) ListHistory(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	mobile, err := auth.Mobile(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := h.History.ListRecent(c.Request.Context(), mobile, limit)
	if err != nil {
		logger.FromGin(c).Error("history list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// HistorySummary aggregates the caller's history over [from, to). Both are RFC3339;
// the default window is the last 30 days.
func (h Handlers) HistorySummary(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	mobile, err := auth.Mobile(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	to := time.Now().UTC()
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
	}
	from := to.Add(-defaultSummaryWindow)
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
	}

	sum, err := h.History.Summary(c.Request.Context(), mobile, history.TimeRange{From: from, To: to})
	if errors.Is(err, history.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("history summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Presence ---

func (h Handlers) GetPresence(c *gin.Context) {
	if h.Presence == nil || h.Accounts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence not configured"})
		return
	}
	identity, err := h.Accounts.Canonicalize(c.Param("identity"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid mobile number"})
		return
	}
	online, err := h.Presence.IsOnline(c.Request.Context(), identity)
	if err != nil {
		logger.FromGin(c).Warn("presence lookup failed", "identity", identity, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "presence lookup failed"})
		return
	}
	status := "offline"
	if online {
		status = "online"
	}
	_, callable := h.Presence.Lookup(identity)
	c.JSON(http.StatusOK, gin.H{"identity": identity, "status": status, "callable": callable})
}

// --- Admin ---

// ListSessions shows live call sessions on this instance.
// RBAC: admin.
func (h Handlers) ListSessions(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	sessions := h.Calls.Sessions()
	if h.Audit != nil {
		actor, _ := auth.Mobile(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		if err := h.Audit.LogAdminAction(c.Request.Context(), actor, role, c.ClientIP(), "listed live sessions"); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}
