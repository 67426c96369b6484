package tracking

import (
	"net/http"
	"strconv"

	apperrors "delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
	errors  *apperrors.ErrorHandler
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, errors: apperrors.NewErrorHandler(log)}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	{
		orders.POST("", h.handleCreate())
		orders.GET("/:id", h.handleGet())
		orders.PUT("/:id/status", h.handleUpdateStatus())
	}
}

type createOrderBody struct {
	ID           string `json:"id" binding:"required"`
	CustomerID   string `json:"customerId" binding:"required"`
	RestaurantID string `json:"restaurantId" binding:"required"`
}

func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body createOrderBody
		if err := c.ShouldBindJSON(&body); err != nil {
			h.errors.Respond(c, apperrors.NewValidationError(err.Error()))
			return
		}
		order, err := h.service.Create(c.Request.Context(), body.ID, body.CustomerID, body.RestaurantID)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order": order})
	}
}

func (h *Handler) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order})
	}
}

type statusBody struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body statusBody
		if err := c.ShouldBindJSON(&body); err != nil {
			h.errors.Respond(c, apperrors.NewValidationError(err.Error()))
			return
		}
		status, ok := ParseStatus(body.Status)
		if !ok {
			h.errors.Respond(c, apperrors.NewValidationError("unknown status "+strconv.Quote(body.Status)))
			return
		}

		order, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), status)
		if err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order})
	}
}
