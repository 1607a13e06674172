package ws

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	MessageNotification = "notification"
	MessageQuit         = "quit"
)

// ClientMessage is an instruction pushed to a connected SEB client.
type ClientMessage struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Status         string `json:"status,omitempty"`
	Message        string `json:"message,omitempty"`
}

type clientNotification struct {
	connectionID string
	payload      []byte
}

// ClientHub keeps one instruction channel per client connection.
type ClientHub struct {
	register   chan *sebClient
	unregister chan *sebClient
	notify     chan clientNotification
	clients    map[string]*sebClient
	connected  atomic.Int64
	log        logrus.FieldLogger
}

func NewClientHub(log logrus.FieldLogger) *ClientHub {
	return &ClientHub{
		register:   make(chan *sebClient),
		unregister: make(chan *sebClient),
		notify:     make(chan clientNotification, 256),
		clients:    make(map[string]*sebClient),
		log:        log,
	}
}

func (h *ClientHub) Run() {
	for {
		select {
		case client := <-h.register:
			// a reconnecting client replaces its stale socket
			if existing, ok := h.clients[client.connectionID]; ok {
				h.drop(existing)
			}
			h.clients[client.connectionID] = client
		case client := <-h.unregister:
			if stored, ok := h.clients[client.connectionID]; ok && stored == client {
				h.drop(client)
			}
		case msg := <-h.notify:
			if client, ok := h.clients[msg.connectionID]; ok {
				select {
				case client.send <- msg.payload:
				default:
					h.drop(client)
				}
			}
		}
		h.connected.Store(int64(len(h.clients)))
	}
}

func (h *ClientHub) drop(client *sebClient) {
	delete(h.clients, client.connectionID)
	close(client.send)
	client.conn.Close()
}

// Connected reports how many clients hold an open instruction channel.
func (h *ClientHub) Connected() int {
	return int(h.connected.Load())
}

// Notify queues msg for the client. Clients that are not connected miss
// the push and pick up pending notifications over REST.
func (h *ClientHub) Notify(connectionID string, msg ClientMessage) {
	if h == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Warn("ws: failed to marshal client message")
		return
	}
	select {
	case h.notify <- clientNotification{connectionID: connectionID, payload: data}:
	default:
		h.log.WithField("connection_id", connectionID).Warn("ws: client notify queue full, dropping message")
	}
}

type sebClient struct {
	hub          *ClientHub
	conn         *websocket.Conn
	send         chan []byte
	connectionID string
}

func newSEBClient(hub *ClientHub, conn *websocket.Conn, connectionID string) *sebClient {
	return &sebClient{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		connectionID: connectionID,
	}
}

func (c *sebClient) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()
	readUntilClosed(c.conn)
}

func (c *sebClient) writePump() {
	writeUntilClosed(c.conn, c.send)
}

// readUntilClosed discards inbound frames and keeps the read deadline
// alive on pongs.
func readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func writeUntilClosed(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
