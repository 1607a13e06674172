package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/models"
	"github.com/zaqqye/seb_monitor/internal/service"
)

// ClientController serves the SEB client side: pings, handshakes, events
// and notification receipts.
type ClientController struct {
	Service *service.Service
	Log     logrus.FieldLogger
}

type pingRequest struct {
	ClientToken   FlexibleString `json:"client_token" binding:"required"`
	ClientSecret  string         `json:"client_secret"`
	ClientAddress string         `json:"client_address"`
	ClientVersion FlexibleString `json:"client_version"`
	ClientOS      string         `json:"client_os"`
	VDI           bool           `json:"vdi"`
	Timestamp     int64          `json:"timestamp"`
}

type connectionResponse struct {
	ConnectionID string                  `json:"connection_id"`
	ExamID       uint                    `json:"exam_id"`
	Status       models.ConnectionStatus `json:"status"`
}

func toConnectionResponse(conn models.ClientConnection) connectionResponse {
	return connectionResponse{ConnectionID: conn.ID, ExamID: conn.ExamID, Status: conn.Status}
}

// Ping registers the client on first contact and keeps it alive afterwards.
func (cc *ClientController) Ping(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	var req pingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ClientToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_token is required"})
		return
	}
	addr := req.ClientAddress
	if addr == "" {
		addr = c.ClientIP()
	}

	conn, err := cc.Service.OnPing(c.Request.Context(), service.Ping{
		ExamID:       examID,
		ClientToken:  req.ClientToken.String(),
		ClientSecret: req.ClientSecret,
		Metadata: models.ClientMetadata{
			ClientAddress: addr,
			ClientVersion: req.ClientVersion.String(),
			ClientOS:      req.ClientOS,
			VDI:           req.VDI,
		},
		Timestamp: millisTime(req.Timestamp),
	})
	if err != nil {
		respondError(c, cc.Log, err)
		return
	}
	c.JSON(http.StatusOK, toConnectionResponse(conn))
}

type handshakeRequest struct {
	ClientVersion FlexibleString `json:"client_version"`
	Timestamp     int64          `json:"timestamp"`
}

func (cc *ClientController) Handshake(c *gin.Context) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	var req handshakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, err := cc.Service.OnHandshake(c.Request.Context(), id, req.ClientVersion.String(), millisTime(req.Timestamp))
	if err != nil {
		respondError(c, cc.Log, err)
		return
	}
	c.JSON(http.StatusOK, toConnectionResponse(conn))
}

type eventPayload struct {
	Type      string        `json:"type" binding:"required"`
	Value     FlexibleFloat `json:"value"`
	Timestamp int64         `json:"timestamp"`
}

type eventsRequest struct {
	Events []eventPayload `json:"events" binding:"required,dive"`
}

// Events accepts a batch of event samples. Events of closed connections are
// accepted and dropped.
func (cc *ClientController) Events(c *gin.Context) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	var req eventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events := make([]service.Event, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, service.Event{
			Type:      models.EventType(strings.ToUpper(strings.TrimSpace(e.Type))),
			Value:     float64(e.Value),
			Timestamp: millisTime(e.Timestamp),
		})
	}
	if err := cc.Service.OnEvent(c.Request.Context(), id, events...); err != nil {
		respondError(c, cc.Log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(events)})
}

func (cc *ClientController) Quit(c *gin.Context) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	conn, err := cc.Service.OnQuit(c.Request.Context(), id, millisTime(0))
	if err != nil {
		respondError(c, cc.Log, err)
		return
	}
	c.JSON(http.StatusOK, toConnectionResponse(conn))
}

func (cc *ClientController) PendingNotifications(c *gin.Context) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	list, err := cc.Service.PendingNotifications(id)
	if err != nil {
		respondError(c, cc.Log, err)
		return
	}
	if list == nil {
		list = []models.PendingNotification{}
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (cc *ClientController) AcknowledgeNotification(c *gin.Context) {
	id, ok := uuidParam(c, "connection_id")
	if !ok {
		return
	}
	notificationID, ok := uuidParam(c, "notification_id")
	if !ok {
		return
	}
	n, err := cc.Service.AcknowledgeClientNotification(c.Request.Context(), id, notificationID)
	if err != nil {
		respondError(c, cc.Log, err)
		return
	}
	c.JSON(http.StatusOK, n)
}
