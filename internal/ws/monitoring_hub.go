package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/models"
	"github.com/zaqqye/seb_monitor/internal/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// MonitoringPayload is pushed to proctor consoles on every refresh.
type MonitoringPayload struct {
	ExamID      uint                        `json:"exam_id"`
	At          time.Time                   `json:"at"`
	Connections []monitoring.ConnectionData `json:"connections"`
}

type monitoringMessage struct {
	examID uint
	at     time.Time
	rows   []monitoring.ConnectionData
}

// MonitoringHub handles websocket consoles watching the connections of an exam.
type MonitoringHub struct {
	register   chan *monitoringClient
	unregister chan *monitoringClient
	broadcast  chan monitoringMessage
	clients    map[*monitoringClient]struct{}
	log        logrus.FieldLogger

	mu    sync.Mutex
	exams map[uint]int // subscribers per exam
}

func NewMonitoringHub(log logrus.FieldLogger) *MonitoringHub {
	return &MonitoringHub{
		register:   make(chan *monitoringClient),
		unregister: make(chan *monitoringClient),
		broadcast:  make(chan monitoringMessage, 64),
		clients:    make(map[*monitoringClient]struct{}),
		log:        log,
		exams:      make(map[uint]int),
	}
}

func (h *MonitoringHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.subscribe(client.examID, 1)
		case client := <-h.unregister:
			h.drop(client)
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.examID != msg.examID {
					continue
				}
				data, err := json.Marshal(MonitoringPayload{
					ExamID:      msg.examID,
					At:          msg.at,
					Connections: client.filter(msg.rows),
				})
				if err != nil {
					h.log.WithError(err).Warn("ws: failed to marshal monitoring payload")
					continue
				}
				select {
				case client.send <- data:
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *MonitoringHub) drop(client *monitoringClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	client.conn.Close()
	h.subscribe(client.examID, -1)
}

func (h *MonitoringHub) subscribe(examID uint, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exams[examID] += delta
	if h.exams[examID] <= 0 {
		delete(h.exams, examID)
	}
}

// WatchedExams returns the exams with at least one console attached.
func (h *MonitoringHub) WatchedExams() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint, 0, len(h.exams))
	for id := range h.exams {
		out = append(out, id)
	}
	return out
}

// Broadcast queues rows for every console of the exam.
func (h *MonitoringHub) Broadcast(examID uint, at time.Time, rows []monitoring.ConnectionData) {
	if h == nil {
		return
	}
	select {
	case h.broadcast <- monitoringMessage{examID: examID, at: at, rows: rows}:
	default:
		h.log.WithField("exam_id", examID).Warn("ws: monitoring broadcast queue full, skipping refresh")
	}
}

type Refresher interface {
	Refresh(ctx context.Context, examID uint, visible ...models.ConnectionStatus) ([]monitoring.ConnectionData, error)
}

// Publish refreshes every watched exam each interval until ctx is done.
func (h *MonitoringHub) Publish(ctx context.Context, source Refresher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.publishOnce(ctx, source, now.UTC())
		}
	}
}

func (h *MonitoringHub) publishOnce(ctx context.Context, source Refresher, at time.Time) {
	for _, examID := range h.WatchedExams() {
		rows, err := source.Refresh(ctx, examID)
		if err != nil {
			h.log.WithError(err).WithField("exam_id", examID).Warn("monitoring refresh failed")
			continue
		}
		h.Broadcast(examID, at, rows)
	}
}

type monitoringClient struct {
	hub     *MonitoringHub
	conn    *websocket.Conn
	send    chan []byte
	examID  uint
	visible map[models.ConnectionStatus]struct{}
}

func newMonitoringClient(hub *MonitoringHub, conn *websocket.Conn, examID uint, visible []models.ConnectionStatus) *monitoringClient {
	c := &monitoringClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		examID: examID,
	}
	if len(visible) > 0 {
		c.visible = make(map[models.ConnectionStatus]struct{}, len(visible))
		for _, s := range visible {
			c.visible[s] = struct{}{}
		}
	}
	return c
}

func (c *monitoringClient) filter(rows []monitoring.ConnectionData) []monitoring.ConnectionData {
	if c.visible == nil {
		return rows
	}
	out := make([]monitoring.ConnectionData, 0, len(rows))
	for _, r := range rows {
		if _, ok := c.visible[r.Connection.Status]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (c *monitoringClient) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()
	readUntilClosed(c.conn)
}

func (c *monitoringClient) writePump() {
	writeUntilClosed(c.conn, c.send)
}
