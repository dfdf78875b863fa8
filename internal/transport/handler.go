package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-omr-marker/internal/config"
	apperrors "go-omr-marker/internal/errors"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/observer"
	"go-omr-marker/internal/service"
	"go-omr-marker/internal/session"
	"go-omr-marker/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	sessionHeader = "X-Session-ID"
	sessionKey    = "session"
)

// Dependencies are the services the HTTP layer calls into
type Dependencies struct {
	Marking  service.MarkingService
	Sessions *session.Manager
	Metrics  *observer.MetricsObserver
}

func NewHandler(deps Dependencies, cfg *config.Config) http.Handler {
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET("/metrics", metrics(deps.Metrics))
	r.POST("/auth/login", login(deps.Sessions))

	authed := r.Group("", sessionAuth(deps.Sessions))
	authed.POST("/auth/logout", logout(deps.Sessions))

	authed.GET("/config", getConfig(deps.Marking))
	authed.POST("/config/reading-key", setReadingKey(deps.Sessions))
	authed.POST("/config/qr-ar-key", setQRARKey(deps.Sessions))
	authed.POST("/config/concepts", setConcepts(deps.Sessions))

	authed.POST("/mark/single-student", markSingleStudent(deps.Marking, cfg))
	authed.POST("/mark/batch", markBatch(deps.Marking, cfg))
	authed.GET("/results/:student", results(deps.Marking))

	return r
}

func login(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}

		sess, token, err := sessions.Login(c.Request.Context(), req.Password)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "login failed", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"ip":         c.ClientIP(),
		}).Info("Session opened")

		c.JSON(http.StatusOK, models.LoginResponse{SessionID: sess.ID, Token: token})
	}
}

func logout(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := currentSession(c)
		if err := sessions.Logout(c.Request.Context(), sess.ID); err != nil {
			respondError(c, http.StatusInternalServerError, "logout failed", err)
			return
		}
		c.JSON(http.StatusOK, models.StatusResponse{Status: "ok", Message: "Logged out"})
	}
}

// sessionAuth resolves the X-Session-ID header or a bearer token to a session
func sessionAuth(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.GetHeader(sessionHeader)
		if credential == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
				credential = auth[7:]
			}
		}

		sess, err := sessions.Authenticate(c.Request.Context(), credential)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "authentication required", err)
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	if v, ok := c.Get(sessionKey); ok {
		if sess, ok := v.(*session.Session); ok {
			return sess
		}
	}
	return nil
}

func results(svc service.MarkingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				respondError(c, http.StatusBadRequest, "invalid limit",
					apperrors.NewValidationError("limit must be a non-negative integer", err))
				return
			}
			limit = n
		}

		records, err := svc.History(c.Request.Context(), c.Param("student"), limit)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "failed to load results", err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func metrics(m *observer.MetricsObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, m.GetMetrics())
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			respondError(c, http.StatusRequestEntityTooLarge, "request too large",
				fmt.Errorf("body of %d bytes exceeds the %d byte limit", c.Request.ContentLength, maxBytes))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err.Err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	var maxBytesErr *http.MaxBytesError
	// Fallback to context-based errors
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	detail := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		detail = appErr.Message
		if appErr.Details != "" {
			detail += " (" + appErr.Details + ")"
		}
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %s", message, detail),
	})
}
