package notification

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	apperrors "delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/identity"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AuditSearcher backs the full-text search endpoint.
type AuditSearcher interface {
	Search(ctx context.Context, q, role string, limit int) ([]Notification, error)
}

// RoleLister backs the role audit endpoint.
type RoleLister interface {
	ListByRole(ctx context.Context, f RoleFilter) ([]Notification, int, error)
}

type Handler struct {
	dispatcher *Dispatcher
	inapp      *InAppDelivery
	roles      RoleLister
	search     AuditSearcher
	errors     *apperrors.ErrorHandler
	logger     logger.Logger
}

// NewHandler wires the REST surface. search may be nil when the audit mirror is disabled.
func NewHandler(dispatcher *Dispatcher, inapp *InAppDelivery, roles RoleLister, search AuditSearcher, log logger.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		inapp:      inapp,
		roles:      roles,
		search:     search,
		errors:     apperrors.NewErrorHandler(log),
		logger:     log,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	notifications := rg.Group("/notifications")
	{
		notifications.POST("", h.handleSend())
		notifications.POST("/senddirect", h.handleSendDirect())
		notifications.POST("/:id/read", h.handleMarkRead())
		notifications.GET("/unread-count/:recipientId", h.handleUnreadCount())
		notifications.GET("/unread/:recipientId", h.handleListUnread())
		notifications.GET("/role/:role", h.handleListByRole())
		notifications.GET("/search", h.handleSearch())
	}
}

type sendRequestBody struct {
	Title       string       `json:"title" binding:"required"`
	Message     string       `json:"message" binding:"required"`
	Roles       []string     `json:"roles"`
	UserIDs     []string     `json:"userIds"`
	Channels    []string     `json:"channels" binding:"required,min=1"`
	ActionURL   string       `json:"actionUrl" binding:"omitempty,url"`
	ActionText  string       `json:"actionText"`
	Attachments []Attachment `json:"attachments" binding:"omitempty,dive"`
}

func (b sendRequestBody) toRequest() SendRequest {
	return SendRequest{
		Title:       b.Title,
		Message:     b.Message,
		ActionURL:   b.ActionURL,
		ActionText:  b.ActionText,
		Attachments: b.Attachments,
		Roles:       b.Roles,
		UserIDs:     b.UserIDs,
		Channels:    b.Channels,
	}
}

func (h *Handler) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body sendRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			h.errors.Respond(c, apperrors.NewValidationError(err.Error()))
			return
		}
		if len(body.Roles) == 0 {
			h.errors.Respond(c, apperrors.NewValidationError("roles is required"))
			return
		}
		body.UserIDs = nil
		h.send(c, body.toRequest())
	}
}

func (h *Handler) handleSendDirect() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body sendRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			h.errors.Respond(c, apperrors.NewValidationError(err.Error()))
			return
		}
		if len(body.UserIDs) == 0 {
			h.errors.Respond(c, apperrors.NewValidationError("userIds is required"))
			return
		}
		body.Roles = nil
		h.send(c, body.toRequest())
	}
}

func (h *Handler) send(c *gin.Context, req SendRequest) {
	n, err := h.dispatcher.Send(c.Request.Context(), req)
	if err != nil {
		h.errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notification": n})
}

type markReadBody struct {
	RecipientID   string `json:"recipientId" binding:"required"`
	RecipientType string `json:"recipientType" binding:"required"`
}

func (h *Handler) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body markReadBody
		if err := c.ShouldBindJSON(&body); err != nil {
			h.errors.Respond(c, apperrors.NewValidationError(err.Error()))
			return
		}
		rt, ok := identity.ParseRecipientType(body.RecipientType)
		if !ok {
			h.errors.Respond(c, apperrors.NewValidationError("unknown recipientType "+strconv.Quote(body.RecipientType)))
			return
		}

		notificationID := c.Param("id")
		if err := h.inapp.MarkRead(c.Request.Context(), notificationID, body.RecipientID, rt); err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notificationId": notificationID, "read": true})
	}
}

func (h *Handler) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := h.inapp.UnreadCount(c.Request.Context(), c.Param("recipientId"))
		if err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

func (h *Handler) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit, err := pagination(c)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}

		recipientID := c.Param("recipientId")
		items, err := h.inapp.ListUnread(c.Request.Context(), recipientID, limit, (page-1)*limit)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"recipientId":   recipientID,
			"page":          page,
			"limit":         limit,
			"notifications": items,
		})
	}
}

func (h *Handler) handleListByRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit, err := pagination(c)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}

		role, ok := identity.ParseRecipientType(c.Param("role"))
		if !ok {
			h.errors.Respond(c, apperrors.NewValidationError("unknown role "+strconv.Quote(c.Param("role"))))
			return
		}

		filter := RoleFilter{Role: string(role), Limit: limit, Offset: (page - 1) * limit}
		if raw := c.Query("channel"); raw != "" {
			channels, err := ParseChannels([]string{raw})
			if err != nil {
				h.errors.Respond(c, apperrors.NewValidationError(err.Error()))
				return
			}
			filter.Channel = channels[0]
		}
		if raw := strings.ToUpper(c.Query("status")); raw != "" {
			switch AttemptStatus(raw) {
			case StatusPending, StatusSent, StatusFailed:
				filter.Status = AttemptStatus(raw)
			default:
				h.errors.Respond(c, apperrors.NewValidationError("unknown status "+strconv.Quote(raw)))
				return
			}
		}

		notifications, total, err := h.roles.ListByRole(c.Request.Context(), filter)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"role":          role,
			"page":          page,
			"limit":         limit,
			"total":         total,
			"notifications": notifications,
		})
	}
}

func (h *Handler) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.search == nil {
			h.errors.Respond(c, apperrors.NewNotFoundError("search", "audit mirror is disabled"))
			return
		}

		_, limit, err := pagination(c)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}

		results, err := h.search.Search(c.Request.Context(), c.Query("q"), c.Query("role"), limit)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": results})
	}
}

func pagination(c *gin.Context) (page, limit int, err error) {
	page, limit = 1, defaultPageSize
	if raw := c.Query("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, apperrors.NewValidationError("page must be a positive integer")
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, apperrors.NewValidationError("limit must be a positive integer")
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}
	return page, limit, nil
}
