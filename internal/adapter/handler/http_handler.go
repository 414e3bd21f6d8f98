package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/core/service"
)

const requestTimeout = 5 * time.Second

// OrderService is what the HTTP surface needs from the order service.
type OrderService interface {
	Create(ctx context.Context, req service.CreateOrderRequest, idempotencyKey string) (*domain.Order, error)
	FindAllOrders(ctx context.Context) ([]domain.Order, error)
	FindAllOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error)
	FindOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	DeleteOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type HTTPHandler struct {
	orders OrderService
	health *HealthChecks
	logger *zap.Logger
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

func NewHTTPHandler(orders OrderService, health *HealthChecks, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orders: orders, health: health, logger: logger}
}

func (h *HTTPHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	orders := r.Group("/orders")
	{
		orders.GET("", h.ListOrders)
		orders.GET("/buyer", h.ListOrdersByBuyer)
		orders.GET("/:id", h.GetOrder)
		orders.POST("", h.CreateOrder)
		orders.DELETE("/:id", h.DeleteOrder)
	}
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	orders, err := h.orders.FindAllOrders(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: nonNil(orders)})
}

func (h *HTTPHandler) ListOrdersByBuyer(c *gin.Context) {
	buyerID, err := uuid.Parse(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: "invalid buyer id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	orders, err := h.orders.FindAllOrdersByBuyerID(ctx, buyerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: nonNil(orders)})
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	order, err := h.orders.FindOrderByID(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, Response{Message: "order not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: order})
}

func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	order, err := h.orders.Create(ctx, req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: order})
}

func (h *HTTPHandler) DeleteOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	order, err := h.orders.DeleteOrderByID(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, Response{Message: "order not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: order})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	failures := h.health.Check(c.Request.Context())
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		status = http.StatusConflict
		message = "duplicate request"
	case errors.Is(err, service.ErrInsufficientStock):
		status = http.StatusBadRequest
		message = "not enough stock"
	case errors.Is(err, service.ErrProductNotFound), errors.Is(err, service.ErrInvalidOrder):
		status = http.StatusBadRequest
		message = err.Error()
	default:
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	_ = c.Error(err)
	c.JSON(status, Response{Message: message})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: "invalid order id"})
		return uuid.Nil, false
	}
	return id, true
}

func nonNil(orders []domain.Order) []domain.Order {
	if orders == nil {
		return []domain.Order{}
	}
	return orders
}
