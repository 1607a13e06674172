package ws

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zaqqye/seb_monitor/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; rely on JWT auth.
		return true
	},
}

// MonitoringHandler streams the connection table of :exam_id. The optional
// status query (comma separated) limits the pushed rows.
func MonitoringHandler(hub *MonitoringHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		examID, err := strconv.ParseUint(c.Param("exam_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid exam id"})
			return
		}
		visible, err := models.ParseConnectionStatuses(c.Query("status"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.WithError(err).Debug("ws: monitoring upgrade failed")
			return
		}
		client := newMonitoringClient(hub, conn, uint(examID), visible)
		hub.register <- client

		go client.writePump()
		client.readPump()
	}
}

// ConnectionLookup resolves client connections for the instruction channel.
type ConnectionLookup interface {
	Connection(id string) (models.ClientConnection, error)
}

// ClientHandler attaches a SEB client to its instruction channel.
func ClientHandler(hub *ClientHub, conns ConnectionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("connection_id")
		conn, err := conns.Connection(id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return
		}
		if conn.Status.IsTerminal() {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "connection is " + string(conn.Status)})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.WithError(err).Debug("ws: client upgrade failed")
			return
		}
		client := newSEBClient(hub, ws, id)
		hub.register <- client

		go client.writePump()
		client.readPump()
	}
}
