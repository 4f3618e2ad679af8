package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const statusPushInterval = 10 * time.Second

// APIResponse is the envelope for every REST response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func errorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

func messageResponse(message string) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
	}
}

// ProvisionRequest is the POST /api/provision body.
type ProvisionRequest struct {
	Profile string   `json:"profile"`
	DryRun  bool     `json:"dryRun"`
	Devices []string `json:"devices"`
}

// RunServe starts the HTTP/WebSocket API and blocks until ctx is done.
func (a *App) RunServe(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)

	hub := newWSHub()
	a.wsHub = hub
	go hub.run(ctx)
	go a.statusPushLoop(ctx, hub)

	server := &http.Server{
		Addr:        addr,
		Handler:     a.buildRouter(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: a synchronous provision pass can run for minutes.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		LogInfo("serve").Str("addr", addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	LogInfo("serve").Msg("HTTP server stopped")
	return nil
}

func (a *App) buildRouter() *gin.Engine {
	router := gin.New()
	// Panics land in the module logger instead of gin's own writer.
	recovery := gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered interface{}) {
		LogPanic("http", recovered, string(debug.Stack()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse("internal server error"))
	})
	router.Use(recovery, requestLogger(), CORSMiddleware())

	router.GET("/health", a.handleHealth)
	router.GET("/metrics", gin.WrapH(metricsHandler()))
	router.GET("/ws", a.handleWS)

	api := router.Group("/api")
	{
		api.GET("/devices", a.handleDevices)
		api.GET("/devices/:id", a.handleDeviceInfo)
		api.GET("/status", a.handleStatus)
		api.POST("/provision", a.handleProvision)
		api.GET("/runs", a.handleRuns)
		api.GET("/runs/:id", a.handleRun)
		api.GET("/history/:serial", a.handleDeviceHistory)
		api.GET("/profiles", a.handleProfiles)
		api.POST("/profiles", a.handleSaveProfile)
		api.PUT("/profiles/default", a.handleSetDefaultProfile)
		api.DELETE("/profiles/:name", a.handleDeleteProfile)
		api.GET("/apks", a.handleAPKs)
		api.GET("/logs", a.handleLogs)
		api.POST("/restart-server", a.handleRestartServer)
	}

	return router
}

// requestLogger adapts gin request logging to the module logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		LogDebug("http").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (a *App) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(gin.H{
		"status":            "ok",
		"version":           a.GetAppVersion(),
		"adbServerRestarts": a.ServerRestartCount(),
	}))
}

func (a *App) handleDevices(c *gin.Context) {
	devices, err := a.GetDevices(false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(devices))
}

func (a *App) handleDeviceInfo(c *gin.Context) {
	deviceId := c.Param("id")
	if err := ValidateDeviceID(deviceId); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	info, err := a.GetDeviceInfo(deviceId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(info))
}

func (a *App) handleStatus(c *gin.Context) {
	packageName := c.Query("package")
	if packageName == "" {
		profile, err := a.GetProfile(c.Query("profile"))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		packageName = profile.Package
	}

	summary, err := a.CollectStatusSummary(packageName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(summary))
}

func (a *App) handleProvision(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}

	profile, err := a.GetProfile(req.Profile)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	opts := ProvisionOptions{Profile: profile, DryRun: req.DryRun, Devices: req.Devices}
	if profile.FilterScript != "" {
		hook, err := LoadDeviceHook(profile.FilterScript)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("filter hook: %v", err)))
			return
		}
		opts.Hook = hook
	}

	summary, err := a.RunProvisionPass(c.Request.Context(), opts)
	if err != nil {
		if summary != nil {
			c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: err.Error(), Data: summary})
			return
		}
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "already running") {
			status = http.StatusConflict
		}
		c.JSON(status, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(summary))
}

func (a *App) handleRuns(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("history store unavailable"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	runs, err := a.store.ListRuns(c.Query("profile"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(runs))
}

func (a *App) handleRun(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("history store unavailable"))
		return
	}

	run, err := a.store.GetRun(c.Param("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(run))
}

func (a *App) handleDeviceHistory(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("history store unavailable"))
		return
	}

	serial := c.Param("serial")
	if err := ValidateDeviceID(serial); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	results, err := a.store.DeviceHistory(serial, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(results))
}

func (a *App) handleProfiles(c *gin.Context) {
	profiles, err := a.LoadProfiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(profiles))
}

func (a *App) handleSaveProfile(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := ValidateProfileManifest(data); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := a.SaveProfile(profile); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, messageResponse("profile saved"))
}

func (a *App) handleSetDefaultProfile(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, errorResponse("profile name is required"))
		return
	}

	if err := a.SetDefaultProfileName(req.Name); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, messageResponse("default profile set to "+req.Name))
}

func (a *App) handleDeleteProfile(c *gin.Context) {
	if err := a.DeleteProfile(c.Param("name")); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, messageResponse("profile deleted"))
}

func (a *App) handleAPKs(c *gin.Context) {
	dir := c.Query("dir")
	if dir == "" {
		profile, err := a.GetProfile(c.Query("profile"))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		dir = profile.APKDir
	}
	if dir == "" {
		c.JSON(http.StatusBadRequest, errorResponse("no APK directory configured"))
		return
	}

	apks, err := a.ScanAPKDir(dir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(apks))
}

func (a *App) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(gin.H{
		"logs": a.GetBackendLogs(),
		// Empty unless file logging is enabled.
		"file": GetLogFilePath(),
	}))
}

func (a *App) handleRestartServer(c *gin.Context) {
	out, err := a.RestartAdbServer()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, messageResponse(out))
}

// statusPushLoop pushes periodic status snapshots while anyone listens.
func (a *App) statusPushLoop(ctx context.Context, hub *wsHub) {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.subscriberCount(topicStatus) == 0 {
				continue
			}

			profile, err := a.GetProfile("")
			if err != nil {
				continue
			}
			summary, err := a.CollectStatusSummary(profile.Package)
			if err != nil {
				LogDebug("serve").Err(err).Msg("Status snapshot failed")
				continue
			}
			hub.BroadcastStatus(summary)
		}
	}
}
