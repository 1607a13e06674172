package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/middleware"
	"github.com/zaqqye/seb_monitor/internal/models"
	"github.com/zaqqye/seb_monitor/internal/monitoring"
	"github.com/zaqqye/seb_monitor/internal/service"
	"github.com/zaqqye/seb_monitor/internal/ws"
)

// MonitoringController serves proctor consoles.
type MonitoringController struct {
	Service *service.Service
	Hubs    *ws.Hubs
	Log     logrus.FieldLogger
}

// ListConnections returns the exam's monitoring rows; ?status=A,B limits
// them to the given statuses.
func (mc *MonitoringController) ListConnections(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	visible, err := models.ParseConnectionStatuses(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := mc.Service.Refresh(c.Request.Context(), examID, visible...)
	if err != nil {
		respondError(c, mc.Log, err)
		return
	}
	if rows == nil {
		rows = []monitoring.ConnectionData{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": len(rows)})
}

func (mc *MonitoringController) GetConnection(c *gin.Context) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	data, err := mc.Service.Snapshot(id)
	if err != nil {
		respondError(c, mc.Log, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (mc *MonitoringController) DisableConnection(c *gin.Context) {
	mc.terminate(c, mc.Service.DisableConnection)
}

func (mc *MonitoringController) CloseConnection(c *gin.Context) {
	mc.terminate(c, mc.Service.CloseConnection)
}

func (mc *MonitoringController) terminate(c *gin.Context, fn func(context.Context, string) (models.ClientConnection, error)) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	conn, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, mc.Log, err)
		return
	}
	mc.audit(c).WithFields(logrus.Fields{"connection_id": id, "status": conn.Status}).Info("connection terminated by proctor")
	c.JSON(http.StatusOK, toConnectionResponse(conn))
}

type quitExamRequest struct {
	ConnectionIDs []string `json:"connection_ids" binding:"omitempty,dive,uuid"`
}

// QuitExam closes connections of an exam and sends each client the quit
// instruction. An empty body closes every connection still running.
func (mc *MonitoringController) QuitExam(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	var req quitExamRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	closed, err := mc.Service.CloseConnections(c.Request.Context(), examID, req.ConnectionIDs...)
	if err != nil {
		mc.Log.WithError(err).WithField("exam_id", examID).Error("closing exam connections failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry later", "closed": closed, "total": len(closed)})
		return
	}
	mc.audit(c).WithFields(logrus.Fields{"exam_id": examID, "closed": len(closed)}).Info("exam quit by proctor")
	c.JSON(http.StatusOK, gin.H{"closed": closed, "total": len(closed)})
}

type raiseNotificationRequest struct {
	Type    string `json:"type" binding:"required"`
	Payload string `json:"payload"`
}

func (mc *MonitoringController) RaiseNotification(c *gin.Context) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	var req raiseNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	typ := models.NotificationType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !typ.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown notification type"})
		return
	}
	n, err := mc.Service.RaiseNotification(c.Request.Context(), id, typ, req.Payload)
	if err != nil {
		respondError(c, mc.Log, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (mc *MonitoringController) AcknowledgeNotification(c *gin.Context) {
	id, ok := uuidParam(c, "notification_id")
	if !ok {
		return
	}
	n, err := mc.Service.AcknowledgeNotification(c.Request.Context(), id)
	if err != nil {
		respondError(c, mc.Log, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// ArchiveExam removes every connection of a finished exam. Partial failures
// answer 503 with the number archived so far; the call can be repeated.
func (mc *MonitoringController) ArchiveExam(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	archived, err := mc.Service.ArchiveExam(c.Request.Context(), examID)
	if err != nil {
		mc.Log.WithError(err).WithField("exam_id", examID).Error("archiving exam connections failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry later", "archived": archived})
		return
	}
	mc.audit(c).WithFields(logrus.Fields{"exam_id": examID, "archived": archived}).Info("exam archived")
	c.JSON(http.StatusOK, gin.H{"archived": archived})
}

func (mc *MonitoringController) Stats(c *gin.Context) {
	stats := gin.H{}
	for k, v := range mc.Service.Stats() {
		stats[k] = v
	}
	if mc.Hubs != nil {
		stats["client_channels"] = mc.Hubs.Client.Connected()
		stats["watched_exams"] = len(mc.Hubs.Monitoring.WatchedExams())
	}
	c.JSON(http.StatusOK, stats)
}

func (mc *MonitoringController) audit(c *gin.Context) logrus.FieldLogger {
	log := mc.Log
	if claims, ok := middleware.CurrentClaims(c); ok {
		log = log.WithFields(logrus.Fields{"user": claims.Subject, "role": claims.Role})
	}
	return log
}
