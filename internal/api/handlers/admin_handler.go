package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"example.com/backstage/services/keygate/internal/api/views"
	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/search"
	"example.com/backstage/services/keygate/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"
)

// AuditSearcher reads back the audit trail
type AuditSearcher interface {
	Recent(ctx context.Context, eventType string, size int) ([]search.Event, error)
}

// AdminHandler serves the admin console and its mutations
type AdminHandler struct {
	keys        *services.KeyRegistry
	blacklist   *services.BlacklistRegistry
	tracker     *services.Tracker
	queue       *services.NotificationQueue
	audit       AuditSearcher
	secretParam string
	now         services.Clock
}

// NewAdminHandler creates a new admin handler. audit may be nil.
func NewAdminHandler(
	keys *services.KeyRegistry,
	blacklist *services.BlacklistRegistry,
	tracker *services.Tracker,
	queue *services.NotificationQueue,
	audit AuditSearcher,
	secretParam string,
	clock services.Clock,
) *AdminHandler {
	return &AdminHandler{
		keys:        keys,
		blacklist:   blacklist,
		tracker:     tracker,
		queue:       queue,
		audit:       audit,
		secretParam: secretParam,
		now:         clock,
	}
}

// KeyRequest names one key
type KeyRequest struct {
	Key string `form:"key" json:"key" binding:"required"`
}

// CustomKeyRequest creates a key with an admin-chosen token and lifetime
type CustomKeyRequest struct {
	Key      string `form:"key" json:"key" binding:"max=128"`
	Duration string `form:"duration" json:"duration" binding:"required,ttl"`
	MaxUsers int    `form:"max_users" json:"max_users" binding:"min=0"`
}

// PermanentKeyRequest creates a key that never expires
type PermanentKeyRequest struct {
	Key      string `form:"key" json:"key" binding:"max=128"`
	Owner    string `form:"owner" json:"owner"`
	MaxUsers int    `form:"max_users" json:"max_users" binding:"min=0"`
}

// KeyTimeRequest moves a key's expiry
type KeyTimeRequest struct {
	Key   string `form:"key" json:"key" binding:"required"`
	Hours int    `form:"hours" json:"hours" binding:"required,gt=0"`
}

// OwnerRequest names a key owner
type OwnerRequest struct {
	Owner string `form:"owner" json:"owner" binding:"required"`
}

// BlacklistRequest bans a subject
type BlacklistRequest struct {
	Type     string `form:"type" json:"type" binding:"required,subject"`
	Value    string `form:"value" json:"value" binding:"required"`
	Reason   string `form:"reason" json:"reason"`
	Duration string `form:"duration" json:"duration" binding:"omitempty,ttl"`
}

// BlacklistValueRequest names a banned subject
type BlacklistValueRequest struct {
	Value string `form:"value" json:"value" binding:"required"`
}

// BlacklistIDRequest names a blacklist entry
type BlacklistIDRequest struct {
	ID string `form:"id" json:"id" binding:"required"`
}

// BlacklistAdjustRequest shifts a ban by Hours, which may be negative
type BlacklistAdjustRequest struct {
	Value string `form:"value" json:"value" binding:"required"`
	Hours int    `form:"hours" json:"hours" binding:"required"`
}

// NotificationRequest broadcasts a message to the game clients
type NotificationRequest struct {
	Message string `form:"message" json:"message" binding:"required"`
	Kind    string `form:"kind" json:"kind" binding:"omitempty,kind"`
}

// HandleConsole sweeps expired keys and shows the console, as HTML or JSON
func (h *AdminHandler) HandleConsole(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.keys.SweepExpired(ctx); err != nil {
		respondError(c, err)
		return
	}

	page := views.AdminPage{Query: h.query(c), Now: h.now()}
	var err error
	if page.Keys, err = h.keys.List(ctx); err != nil {
		respondError(c, err)
		return
	}
	if page.Blacklist, err = h.blacklist.List(ctx); err != nil {
		respondError(c, err)
		return
	}
	if page.Progress, err = h.tracker.List(ctx); err != nil {
		respondError(c, err)
		return
	}
	if page.Notifications, err = h.queue.List(ctx); err != nil {
		respondError(c, err)
		return
	}

	switch c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) {
	case gin.MIMEJSON:
		c.JSON(http.StatusOK, gin.H{
			"keys":          nonNil(page.Keys),
			"blacklist":     nonNil(page.Blacklist),
			"progress":      nonNil(page.Progress),
			"notifications": nonNil(page.Notifications),
		})
	default:
		c.HTML(http.StatusOK, views.Admin, page)
	}
}

// HandleAudit returns recent audit events, optionally filtered by ?type=
func (h *AdminHandler) HandleAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusOK, []search.Event{})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "50"))
	if err != nil || size < 1 {
		respondError(c, NewValidationError("size must be a positive number"))
		return
	}
	events, err := h.audit.Recent(c.Request.Context(), c.Query("type"), size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(events))
}

// HandleCreateKey mints a default key owned by the admin
func (h *AdminHandler) HandleCreateKey(c *gin.Context) {
	key, err := h.keys.IssueGenerated(c.Request.Context(), models.OwnerAdmin, 0, h.keys.DefaultTTL(), false, services.SourceAdmin)
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusCreated, key)
}

// HandleCreateCustomKey stores an admin-chosen token. A "permanent" duration creates a permanent key.
func (h *AdminHandler) HandleCreateCustomKey(c *gin.Context) {
	var req CustomKeyRequest
	if !bind(c, &req) {
		return
	}
	ttl, err := services.ParseTTL(req.Duration)
	if err != nil {
		respondError(c, err)
		return
	}

	var key *models.AccessKey
	if ttl.Permanent {
		key, err = h.keys.IssuePermanent(c.Request.Context(), req.Key, "", req.MaxUsers)
	} else {
		key, err = h.keys.IssueCustom(c.Request.Context(), req.Key, ttl.Duration, req.MaxUsers)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusCreated, key)
}

// HandleCreatePermanentKey stores a key that never expires
func (h *AdminHandler) HandleCreatePermanentKey(c *gin.Context) {
	var req PermanentKeyRequest
	if !bind(c, &req) {
		return
	}
	key, err := h.keys.IssuePermanent(c.Request.Context(), req.Key, req.Owner, req.MaxUsers)
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusCreated, key)
}

// HandleDeleteKey removes one key
func (h *AdminHandler) HandleDeleteKey(c *gin.Context) {
	var req KeyRequest
	if !bind(c, &req) {
		return
	}
	if err := h.keys.DeleteByToken(c.Request.Context(), req.Key); err != nil {
		respondError(c, err)
		return
	}
	h.audited(c, "Key deleted", req.Key)
	h.done(c, http.StatusOK, gin.H{"deleted": req.Key})
}

// HandleDeleteExpired removes lapsed keys
func (h *AdminHandler) HandleDeleteExpired(c *gin.Context) {
	removed, err := h.keys.SweepExpired(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusOK, gin.H{"removed": len(removed)})
}

// HandleDeleteAll removes every key
func (h *AdminHandler) HandleDeleteAll(c *gin.Context) {
	removed, err := h.keys.DeleteAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	h.audited(c, "All keys deleted", strconv.Itoa(removed))
	h.done(c, http.StatusOK, gin.H{"removed": removed})
}

// HandleAddTime extends a key
func (h *AdminHandler) HandleAddTime(c *gin.Context) {
	var req KeyTimeRequest
	if !bind(c, &req) {
		return
	}
	key, err := h.keys.Extend(c.Request.Context(), req.Key, req.Hours)
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusOK, key)
}

// HandleRemoveTime shortens a key
func (h *AdminHandler) HandleRemoveTime(c *gin.Context) {
	var req KeyTimeRequest
	if !bind(c, &req) {
		return
	}
	key, err := h.keys.Reduce(c.Request.Context(), req.Key, req.Hours)
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusOK, key)
}

// HandleUnbind clears a key's consumers
func (h *AdminHandler) HandleUnbind(c *gin.Context) {
	var req KeyRequest
	if !bind(c, &req) {
		return
	}
	if err := h.keys.UnbindAll(c.Request.Context(), req.Key); err != nil {
		respondError(c, err)
		return
	}
	h.audited(c, "Key unbound", req.Key)
	h.done(c, http.StatusOK, gin.H{"unbound": req.Key})
}

// HandleDeleteOwner removes an owner's keys and progress
func (h *AdminHandler) HandleDeleteOwner(c *gin.Context) {
	var req OwnerRequest
	if !bind(c, &req) {
		return
	}
	removed, err := h.keys.DeleteAllForOwner(c.Request.Context(), req.Owner)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audited(c, "Owner keys deleted", req.Owner)
	h.done(c, http.StatusOK, gin.H{"removed": removed})
}

// HandleAddBlacklist bans an IP or player. An empty duration bans permanently.
func (h *AdminHandler) HandleAddBlacklist(c *gin.Context) {
	var req BlacklistRequest
	if !bind(c, &req) {
		return
	}
	ttl := services.PermanentTTL
	if req.Duration != "" {
		var err error
		if ttl, err = services.ParseTTL(req.Duration); err != nil {
			respondError(c, err)
			return
		}
	}
	entry, err := h.blacklist.Add(c.Request.Context(), models.SubjectType(req.Type), req.Value, req.Reason, ttl)
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusCreated, entry)
}

// HandleRemoveBlacklist lifts every ban on a value
func (h *AdminHandler) HandleRemoveBlacklist(c *gin.Context) {
	var req BlacklistValueRequest
	if !bind(c, &req) {
		return
	}
	if err := h.blacklist.Remove(c.Request.Context(), req.Value); err != nil {
		respondError(c, err)
		return
	}
	h.audited(c, "Blacklist entry removed", req.Value)
	h.done(c, http.StatusOK, gin.H{"removed": req.Value})
}

// HandleRemoveBlacklistID lifts one ban by its ID
func (h *AdminHandler) HandleRemoveBlacklistID(c *gin.Context) {
	var req BlacklistIDRequest
	if !bind(c, &req) {
		return
	}
	if err := h.blacklist.RemoveByID(c.Request.Context(), req.ID); err != nil {
		respondError(c, err)
		return
	}
	h.audited(c, "Blacklist entry removed", req.ID)
	h.done(c, http.StatusOK, gin.H{"removed": req.ID})
}

// HandleAdjustBlacklist shifts a ban's expiry
func (h *AdminHandler) HandleAdjustBlacklist(c *gin.Context) {
	var req BlacklistAdjustRequest
	if !bind(c, &req) {
		return
	}
	entry, err := h.blacklist.AdjustDuration(c.Request.Context(), req.Value, req.Hours)
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusOK, entry)
}

// HandleClearBlacklist lifts every ban
func (h *AdminHandler) HandleClearBlacklist(c *gin.Context) {
	if err := h.blacklist.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.audited(c, "Blacklist cleared", "")
	h.done(c, http.StatusOK, gin.H{"cleared": true})
}

// HandleSendNotification queues a notification or kick for the game clients
func (h *AdminHandler) HandleSendNotification(c *gin.Context) {
	var req NotificationRequest
	if !bind(c, &req) {
		return
	}
	kind := models.KindNotification
	if req.Kind != "" {
		kind = models.NotificationKind(req.Kind)
	}
	n, err := h.queue.Push(c.Request.Context(), req.Message, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	h.done(c, http.StatusCreated, n)
}

// done answers a browser form with a redirect back to the console and anything else with JSON
func (h *AdminHandler) done(c *gin.Context, status int, body interface{}) {
	switch c.ContentType() {
	case binding.MIMEPOSTForm, binding.MIMEMultipartPOSTForm:
		c.Redirect(http.StatusSeeOther, "/admin?"+h.query(c))
	default:
		c.JSON(status, body)
	}
}

// query carries the admin secret over to links and form actions
func (h *AdminHandler) query(c *gin.Context) string {
	secret := c.Query(h.secretParam)
	if secret == "" {
		return ""
	}
	return url.Values{h.secretParam: {secret}}.Encode()
}

func (h *AdminHandler) audited(c *gin.Context, msg, subject string) {
	log.Info().Str("subject", subject).Str("client_ip", c.ClientIP()).Msg(msg)
}

func nonNil[T any](records []T) []T {
	if records == nil {
		return []T{}
	}
	return records
}

// RegisterRoutes registers the handler's routes on the authenticated admin group
func (h *AdminHandler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("", h.HandleConsole)
	admin.GET("/audit", h.HandleAudit)

	keys := admin.Group("/keys")
	{
		keys.POST("", h.HandleCreateKey)
		keys.POST("/custom", h.HandleCreateCustomKey)
		keys.POST("/permanent", h.HandleCreatePermanentKey)
		keys.POST("/delete", h.HandleDeleteKey)
		keys.POST("/delete-expired", h.HandleDeleteExpired)
		keys.POST("/delete-all", h.HandleDeleteAll)
		keys.POST("/add-time", h.HandleAddTime)
		keys.POST("/remove-time", h.HandleRemoveTime)
		keys.POST("/unbind", h.HandleUnbind)
		keys.POST("/delete-owner", h.HandleDeleteOwner)
	}

	blacklist := admin.Group("/blacklist")
	{
		blacklist.POST("", h.HandleAddBlacklist)
		blacklist.POST("/remove", h.HandleRemoveBlacklist)
		blacklist.POST("/remove-id", h.HandleRemoveBlacklistID)
		blacklist.POST("/adjust", h.HandleAdjustBlacklist)
		blacklist.POST("/clear", h.HandleClearBlacklist)
	}

	admin.POST("/notifications", h.HandleSendNotification)
}
