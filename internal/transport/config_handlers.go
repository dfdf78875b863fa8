package transport

import (
	"io"
	"net/http"
	"strings"

	apperrors "go-omr-marker/internal/errors"
	"go-omr-marker/internal/layout"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/service"
	"go-omr-marker/internal/session"
	"go-omr-marker/pkg/models"
	"go-omr-marker/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// sessionUpdate applies a parsed payload to the caller's session
type sessionUpdate func(sess *session.Session, body []byte) (string, error)

func updateSession(sessions *session.Manager, apply sessionUpdate) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := currentSession(c)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondError(c, determineStatusCode(err), "failed to read request body", err)
			return
		}

		message, err := apply(sess, body)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid configuration", err)
			return
		}
		if err := sessions.Save(c.Request.Context(), sess); err != nil {
			respondError(c, apperrors.GetStatusCode(err), "failed to save configuration", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"path":       c.Request.URL.Path,
		}).Info(message)
		c.JSON(http.StatusOK, models.StatusResponse{Status: "ok", Message: message})
	}
}

func setReadingKey(sessions *session.Manager) gin.HandlerFunc {
	return updateSession(sessions, func(sess *session.Session, body []byte) (string, error) {
		key, err := validation.ParseAnswerKey(body)
		if err != nil {
			return "", err
		}
		sess.SetKey(layout.SectionReading, key)
		return "Reading answer key loaded", nil
	})
}

func setQRARKey(sessions *session.Manager) gin.HandlerFunc {
	return updateSession(sessions, func(sess *session.Session, body []byte) (string, error) {
		qr, ar, err := validation.ParseQRARKey(body)
		if err != nil {
			return "", err
		}
		sess.SetKey(layout.SectionQR, qr)
		sess.SetKey(layout.SectionAR, ar)
		return "QR and AR answer keys loaded", nil
	})
}

func setConcepts(sessions *session.Manager) gin.HandlerFunc {
	return updateSession(sessions, func(sess *session.Session, body []byte) (string, error) {
		cm, err := validation.ParseConceptMap(body)
		if err != nil {
			return "", err
		}
		sess.ConceptMap = cm
		return "Concept map loaded", nil
	})
}

func getConfig(svc service.MarkingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := currentSession(c)
		resp := models.SessionConfigResponse{
			SessionID:  sess.ID,
			AnswerKeys: sess.AnswerKeys,
			ConceptMap: sess.ConceptMap,
			Sections:   sess.Sections(),
		}
		if missing := missingSections(svc.Layout(), sess); len(missing) > 0 {
			c.Header("X-Missing-Sections", strings.Join(missing, ","))
		}
		c.JSON(http.StatusOK, resp)
	}
}

func missingSections(l models.ExamLayout, sess *session.Session) []string {
	var missing []string
	for _, key := range l.SectionKeys() {
		if len(sess.AnswerKeys[key]) == 0 {
			missing = append(missing, key)
		}
	}
	return missing
}
