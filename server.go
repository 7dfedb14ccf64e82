package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/models"
	"bitbucket.org/craftlinedata/factory_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(verrs)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func modelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorAdminRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// businessScopeMiddleware moves the caller identity headers into the request
// context; every model operation reads its business scope from there.
func businessScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.GetHeader("x-business-id"))
		if businessId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "x-business-id header is required"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		if username := strings.TrimSpace(c.GetHeader("x-username")); username != "" {
			ctx = utils.SetUsernameInContext(ctx, username)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// adminOnlyMiddleware gates ops endpoints on a shared token. The admin flag
// only ever enters the context through this check.
func adminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN"))
		if token == "" || c.GetHeader("x-admin-token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Request = c.Request.WithContext(utils.SetIsAdminInContext(c.Request.Context(), true))
		c.Next()
	}
}

func registerMaterialRoutes(api *gin.RouterGroup) {
	api.POST("/materials", func(c *gin.Context) {
		var input models.NewMaterial
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		material, err := models.CreateMaterial(c.Request.Context(), &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, material)
	})
	api.GET("/materials", func(c *gin.Context) {
		var name *string
		if q := c.Query("name"); q != "" {
			name = &q
		}
		materials, err := models.GetMaterials(c.Request.Context(), name)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, materials)
	})
	api.GET("/materials/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		material, err := models.GetMaterial(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	})
	api.PUT("/materials/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewMaterial
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		material, err := models.UpdateMaterial(c.Request.Context(), id, &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	})
	api.DELETE("/materials/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		material, err := models.DeleteMaterial(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	})
	api.GET("/materials/:id/ledger", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		entries, err := models.GetInventoryTransactions(c.Request.Context(), id, limit)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})
}

func registerVendorRoutes(api *gin.RouterGroup) {
	api.POST("/vendors", func(c *gin.Context) {
		var input models.NewVendor
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		vendor, err := models.CreateVendor(c.Request.Context(), &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, vendor)
	})
	api.GET("/vendors", func(c *gin.Context) {
		var name *string
		if q := c.Query("name"); q != "" {
			name = &q
		}
		vendors, err := models.GetVendors(c.Request.Context(), name)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendors)
	})
	api.GET("/vendors/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		vendor, err := models.GetVendor(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendor)
	})
	api.PUT("/vendors/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewVendor
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		vendor, err := models.UpdateVendor(c.Request.Context(), id, &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendor)
	})
	api.DELETE("/vendors/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		vendor, err := models.DeleteVendor(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendor)
	})
}

type purchaseStatusRequest struct {
	Status models.PurchaseStatus `json:"status" binding:"required"`
}

func registerPurchaseRoutes(api *gin.RouterGroup) {
	api.POST("/purchases", func(c *gin.Context) {
		var input models.NewPurchase
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		purchase, err := models.CreatePurchase(c.Request.Context(), &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, purchase)
	})
	api.GET("/purchases", func(c *gin.Context) {
		var status *models.PurchaseStatus
		if q := c.Query("status"); q != "" {
			s := models.PurchaseStatus(q)
			status = &s
		}
		purchases, err := models.GetPurchases(c.Request.Context(), status)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, purchases)
	})
	api.GET("/purchases/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		purchase, err := models.GetPurchase(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, purchase)
	})
	api.PUT("/purchases/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewPurchase
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		purchase, err := models.UpdatePurchase(c.Request.Context(), id, &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, purchase)
	})
	api.POST("/purchases/:id/status", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req purchaseStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		purchase, report, err := models.UpdatePurchaseStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"purchase": purchase, "posting_report": report})
	})
	api.DELETE("/purchases/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		purchase, report, err := models.DeletePurchase(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"purchase": purchase, "reversal_report": report})
	})
}

type orderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

type componentPreviewRequest struct {
	OrderQty   decimal.Decimal            `json:"order_qty" binding:"required"`
	Components []models.NewOrderComponent `json:"components" binding:"required"`
}

func registerOrderRoutes(api *gin.RouterGroup) {
	api.POST("/orders", func(c *gin.Context) {
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		order, err := models.CreateOrder(c.Request.Context(), &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	})
	api.GET("/orders", func(c *gin.Context) {
		var status *models.OrderStatus
		if q := c.Query("status"); q != "" {
			s := models.OrderStatus(q)
			status = &s
		}
		orders, err := models.GetOrders(c.Request.Context(), status)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	})
	api.GET("/orders/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		order, err := models.GetOrder(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})
	api.PUT("/orders/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		order, err := models.UpdateOrder(c.Request.Context(), id, &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})
	api.POST("/orders/:id/status", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req orderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		order, err := models.UpdateOrderStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})
	api.DELETE("/orders/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		order, err := models.DeleteOrder(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})
	// Entry-screen support: recompute display consumption for an in-progress
	// order without persisting anything.
	api.POST("/orders/preview-components", func(c *gin.Context) {
		var req componentPreviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		previews, err := models.PreviewOrderComponents(c.Request.Context(), req.OrderQty, req.Components)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, previews)
	})
}

type jobCardStatusRequest struct {
	Status models.JobCardStatus `json:"status" binding:"required"`
}

func registerJobCardRoutes(api *gin.RouterGroup) {
	api.POST("/job-cards", func(c *gin.Context) {
		var input models.NewJobCard
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		jobCard, report, err := models.CreateJobCard(c.Request.Context(), &input)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"job_card": jobCard, "posting_report": report})
	})
	api.GET("/job-cards", func(c *gin.Context) {
		orderId, _ := strconv.Atoi(c.Query("order_id"))
		jobCards, err := models.GetJobCards(c.Request.Context(), orderId)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, jobCards)
	})
	api.GET("/job-cards/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		jobCard, err := models.GetJobCard(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, jobCard)
	})
	api.POST("/job-cards/:id/status", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req jobCardStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		jobCard, err := models.UpdateJobCardStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, jobCard)
	})
	api.DELETE("/job-cards/:id", func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		jobCard, report, err := models.DeleteJobCard(c.Request.Context(), id)
		if err != nil {
			modelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job_card": jobCard, "reversal_report": report})
	})
}

// stockValuationExportHandler streams the current stock position as xlsx.
func stockValuationExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		materials, err := models.GetMaterials(c.Request.Context(), nil)
		if err != nil {
			modelError(c, err)
			return
		}

		f := excelize.NewFile()
		sheetName := "Stock Valuation"
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Add headers
		f.SetCellValue(sheetName, "A1", "Material")
		f.SetCellValue(sheetName, "B1", "SKU")
		f.SetCellValue(sheetName, "C1", "Unit")
		f.SetCellValue(sheetName, "D1", "StockQty")
		f.SetCellValue(sheetName, "E1", "PurchaseRate")
		f.SetCellValue(sheetName, "F1", "StockValue")

		// Add data
		for i, m := range materials {
			row := fmt.Sprint(i + 2)
			f.SetCellValue(sheetName, "A"+row, m.Name)
			f.SetCellValue(sheetName, "B"+row, m.Sku)
			f.SetCellValue(sheetName, "C"+row, m.Unit)
			f.SetCellValue(sheetName, "D"+row, m.StockQty.InexactFloat64())
			f.SetCellValue(sheetName, "E"+row, m.PurchaseRate.InexactFloat64())
			f.SetCellValue(sheetName, "F"+row, m.StockQty.Mul(m.PurchaseRate).InexactFloat64())
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=stock-valuation.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write workbook"})
		}
	}
}

type ledgerPurgeRequest struct {
	Ids []int `json:"ids" binding:"required"`
}

func ledgerPurgeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ledgerPurgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		purged := make([]int, 0, len(req.Ids))
		for _, id := range req.Ids {
			if _, err := models.PurgeInventoryTransaction(c.Request.Context(), id); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "purged": purged})
				return
			}
			purged = append(purged, id)
		}
		c.JSON(http.StatusOK, gin.H{"purged": purged})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness. Redis stays
		// optional: caching and redis locks degrade, posting correctness
		// rests on MySQL advisory locks.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-business-id", "x-username", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api", businessScopeMiddleware())
	registerMaterialRoutes(api)
	registerVendorRoutes(api)
	registerPurchaseRoutes(api)
	registerOrderRoutes(api)
	registerJobCardRoutes(api)
	api.GET("/reports/stock-valuation", stockValuationExportHandler())

	// Ops tooling (admin only): hard-delete poisoned ledger rows.
	ops := r.Group("/internal/ops", businessScopeMiddleware(), adminOnlyMiddleware())
	ops.POST("/ledger/purge", ledgerPurgeHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/api")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
