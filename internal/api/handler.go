package api

import (
	"net/http"
	"strconv"
	"time"

	"stock-service/internal/service"
	"stock-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	reservations *service.ReservationService
	flashSales   *service.FlashSaleService
}

// NewHandler creates a new HTTP handler
func NewHandler(reservations *service.ReservationService, flashSales *service.FlashSaleService) *Handler {
	return &Handler{
		reservations: reservations,
		flashSales:   flashSales,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reservations", h.reserveStock)
		v1.POST("/reservations/confirm", h.confirmReservation)
		v1.POST("/reservations/cancel", h.cancelReservation)

		v1.GET("/stock/:productId/:variantId", h.getStock)
		v1.PUT("/stock/:productId/:variantId", h.setStock)
		v1.POST("/stock/restore", h.restoreStock)
		v1.POST("/stock/warmup", h.warmUpCache)
		v1.POST("/stock/rollback", h.forceRollback)

		fs := v1.Group("/flash-sales")
		{
			fs.POST("/reservations", h.reserveFlashSaleStock)
			fs.POST("/reservations/confirm", h.confirmFlashSaleReservation)
			fs.POST("/reservations/cancel", h.cancelFlashSaleReservation)
			fs.GET("/stock/:productId/:variantId", h.getFlashSaleStock)

			fs.POST("/sessions", h.createSession)
			fs.GET("/sessions", h.listSessions)
			fs.GET("/sessions/active", h.getActiveSession)
			fs.GET("/sessions/upcoming", h.listUpcomingSessions)
			fs.PATCH("/sessions/:id/toggle", h.toggleSession)
			fs.DELETE("/sessions/:id", h.deleteSession)
			fs.GET("/sessions/:id/registrations", h.listSessionRegistrations)

			fs.POST("/registrations", h.registerProduct)
			fs.POST("/registrations/:id/approve", h.approveRegistration)
			fs.POST("/registrations/:id/reject", h.rejectRegistration)
			fs.GET("/shops/:shopId/registrations", h.listShopRegistrations)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// --- Reservations ---

type reserveRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type flashSaleReserveRequest struct {
	reserveRequest
	UserID string `json:"user_id" binding:"required"`
}

type reservationRef struct {
	OrderID   string `json:"order_id" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id" binding:"required"`
}

type flashSaleReservationRef struct {
	reservationRef
	UserID string `json:"user_id" binding:"required"`
}

// reserveStock handles a regular-channel reservation
func (h *Handler) reserveStock(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.reservations.Reserve(c.Request.Context(),
		req.OrderID, req.ProductID, req.VariantID, req.Quantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reserve stock",
			"details": err.Error(),
		})
		return
	}

	c.JSON(reserveStatusCode(result), result)
}

// reserveFlashSaleStock handles a flash-sale reservation
func (h *Handler) reserveFlashSaleStock(c *gin.Context) {
	var req flashSaleReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.flashSales.Reserve(c.Request.Context(),
		req.OrderID, req.ProductID, req.VariantID, req.UserID, req.Quantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reserve flash-sale stock",
			"details": err.Error(),
		})
		return
	}

	c.JSON(reserveStatusCode(result), result)
}

func reserveStatusCode(result *service.ReserveResult) int {
	switch result.Status {
	case service.StatusReserved:
		return http.StatusCreated
	case service.StatusStockNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

// confirmReservation finalizes a reservation after checkout
func (h *Handler) confirmReservation(c *gin.Context) {
	var req reservationRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.reservations.Confirm(c.Request.Context(),
		req.OrderID, req.ProductID, req.VariantID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to confirm reservation",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"confirmed": true})
}

// cancelReservation rolls a reservation back to the stock pool
func (h *Handler) cancelReservation(c *gin.Context) {
	var req reservationRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rolledBack, err := h.reservations.Cancel(c.Request.Context(),
		req.OrderID, req.ProductID, req.VariantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to cancel reservation",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rolled_back": rolledBack})
}

// confirmFlashSaleReservation finalizes a flash-sale reservation
func (h *Handler) confirmFlashSaleReservation(c *gin.Context) {
	var req flashSaleReservationRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.flashSales.Confirm(c.Request.Context(),
		req.OrderID, req.ProductID, req.VariantID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to confirm flash-sale reservation",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"confirmed": true})
}

// cancelFlashSaleReservation rolls back a flash-sale reservation
func (h *Handler) cancelFlashSaleReservation(c *gin.Context) {
	var req flashSaleReservationRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rolledBack, restored, err := h.flashSales.Cancel(c.Request.Context(),
		req.OrderID, req.ProductID, req.VariantID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to cancel flash-sale reservation",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rolled_back":            rolledBack,
		"restored_to_flash_sale": restored,
	})
}

// --- Stock ---

// getStock reads the cached regular stock for a variant
func (h *Handler) getStock(c *gin.Context) {
	stock, err := h.reservations.GetStock(c.Request.Context(),
		c.Param("productId"), c.Param("variantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read stock",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": c.Param("productId"),
		"variant_id": c.Param("variantId"),
		"stock":      stock,
	})
}

type setStockRequest struct {
	Stock *int `json:"stock" binding:"required"`
}

// setStock overwrites durable and cached stock for a variant (admin)
func (h *Handler) setStock(c *gin.Context) {
	var req setStockRequest
	if err := c.ShouldBindJSON(&req); err != nil || *req.Stock < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock value"})
		return
	}

	if err := h.reservations.SetStock(c.Request.Context(),
		c.Param("productId"), c.Param("variantId"), *req.Stock); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to set stock",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stock": *req.Stock})
}

type restoreStockRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// restoreStock credits cancelled units back, routed by active flash sale
func (h *Handler) restoreStock(c *gin.Context) {
	var req restoreStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	restored, err := h.flashSales.RestoreStock(c.Request.Context(),
		req.ProductID, req.VariantID, req.Quantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to restore stock",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"restored":               req.Quantity,
		"restored_to_flash_sale": restored,
	})
}

// warmUpCache reseeds cold stock counters from the durable store (admin)
func (h *Handler) warmUpCache(c *gin.Context) {
	seeded, err := h.reservations.WarmUpCache(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Warm-up failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"seeded": seeded})
}

type forceRollbackRequest struct {
	ReservationKey string `json:"reservation_key" binding:"required"`
}

// forceRollback rolls back a reservation by raw key (admin)
func (h *Handler) forceRollback(c *gin.Context) {
	var req forceRollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rolledBack, err := h.reservations.ForceRollback(c.Request.Context(), req.ReservationKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Rollback failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rolled_back": rolledBack})
}

// getFlashSaleStock reads the cached flash-sale counter for a variant
func (h *Handler) getFlashSaleStock(c *gin.Context) {
	stock, err := h.flashSales.GetStock(c.Request.Context(),
		c.Param("productId"), c.Param("variantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read flash-sale stock",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": c.Param("productId"),
		"variant_id": c.Param("variantId"),
		"stock":      stock,
	})
}

// --- Flash-sale sessions ---

type createSessionRequest struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
}

// createSession creates a new INACTIVE session
func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	session, err := h.flashSales.CreateSession(c.Request.Context(),
		req.Name, req.Description, req.StartTime, req.EndTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Failed to create session",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// listSessions lists every session
func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.flashSales.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list sessions",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// getActiveSession returns the session currently running, if any
func (h *Handler) getActiveSession(c *gin.Context) {
	session, err := h.flashSales.GetActiveSession(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to resolve active session",
			"details": err.Error(),
		})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No flash sale running"})
		return
	}

	c.JSON(http.StatusOK, session)
}

// listUpcomingSessions lists ACTIVE sessions that have not ended
func (h *Handler) listUpcomingSessions(c *gin.Context) {
	sessions, err := h.flashSales.ListUpcomingSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list upcoming sessions",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// toggleSession flips a session between INACTIVE and ACTIVE
func (h *Handler) toggleSession(c *gin.Context) {
	session, err := h.flashSales.ToggleSessionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Failed to toggle session",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, session)
}

// deleteSession removes a non-ACTIVE session
func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.flashSales.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to delete session",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// --- Flash-sale registrations ---

// registerProduct files a PENDING registration for a shop
func (h *Handler) registerProduct(c *gin.Context) {
	shopID := c.GetHeader("X-Shop-ID")
	if shopID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-Shop-ID header"})
		return
	}

	var req service.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	reg, err := h.flashSales.RegisterProduct(c.Request.Context(), shopID, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Failed to register product",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, reg)
}

// approveRegistration approves a PENDING registration (admin)
func (h *Handler) approveRegistration(c *gin.Context) {
	reg, err := h.flashSales.ApproveRegistration(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Approval failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, reg)
}

type rejectRegistrationRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// rejectRegistration rejects a PENDING registration (admin)
func (h *Handler) rejectRegistration(c *gin.Context) {
	var req rejectRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	reg, err := h.flashSales.RejectRegistration(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Rejection failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, reg)
}

// listSessionRegistrations lists a session's registrations, optionally by status
func (h *Handler) listSessionRegistrations(c *gin.Context) {
	regs, err := h.flashSales.ListRegistrationsBySession(c.Request.Context(),
		c.Param("id"), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list registrations",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"registrations": regs})
}

// listShopRegistrations lists a shop's registrations across sessions
func (h *Handler) listShopRegistrations(c *gin.Context) {
	regs, err := h.flashSales.ListRegistrationsByShop(c.Request.Context(), c.Param("shopId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list registrations",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"registrations": regs})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
