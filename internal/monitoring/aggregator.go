package monitoring

import (
	"encoding/json"
	"errors"

	"github.com/zaqqye/seb_monitor/internal/indicator"
	"github.com/zaqqye/seb_monitor/internal/models"
)

// ConnectionReader reads connections from the session registry.
type ConnectionReader interface {
	Get(id string) (models.ClientConnection, error)
	ListByExam(examID uint, statuses ...models.ConnectionStatus) []models.ClientConnection
}

// IndicatorReader returns the current indicator readings of a connection.
type IndicatorReader interface {
	Readings(connectionID string) ([]indicator.Reading, error)
}

// PendingChecker reports unacknowledged notifications.
type PendingChecker interface {
	HasPending(connectionID string) bool
}

// ConnectionData is a read-only snapshot of one connection, its indicator
// readings and its pending-notification flag. The flag is computed only
// when read.
type ConnectionData struct {
	Connection models.ClientConnection
	Indicators []indicator.Reading
	pending    func() bool
}

// NewConnectionData builds a snapshot; pending is evaluated on every read
// of the flag and may be nil.
func NewConnectionData(conn models.ClientConnection, readings []indicator.Reading, pending func() bool) ConnectionData {
	return ConnectionData{Connection: conn, Indicators: readings, pending: pending}
}

// HasPendingNotification reports whether the connection has an
// unacknowledged notification at the time of the call.
func (d ConnectionData) HasPendingNotification() bool {
	if d.pending == nil {
		return false
	}
	return d.pending()
}

func (d ConnectionData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Connection          models.ClientConnection `json:"connection"`
		Indicators          []indicator.Reading     `json:"indicators"`
		PendingNotification bool                    `json:"pending_notification"`
	}{
		Connection:          d.Connection,
		Indicators:          d.Indicators,
		PendingNotification: d.HasPendingNotification(),
	})
}

// Aggregator composes snapshots from the three sources. The reads are not
// joined: a snapshot may pair a registry state with slightly older or newer
// indicator values.
type Aggregator struct {
	connections ConnectionReader
	indicators  IndicatorReader
	pending     PendingChecker
}

// NewAggregator returns an Aggregator reading from the given sources.
func NewAggregator(connections ConnectionReader, indicators IndicatorReader, pending PendingChecker) *Aggregator {
	return &Aggregator{connections: connections, indicators: indicators, pending: pending}
}

// Snapshot returns the current view of one connection. Connections without
// attached indicators yield an empty reading list.
func (a *Aggregator) Snapshot(connectionID string) (ConnectionData, error) {
	conn, err := a.connections.Get(connectionID)
	if err != nil {
		return ConnectionData{}, err
	}
	return a.compose(conn)
}

func (a *Aggregator) compose(conn models.ClientConnection) (ConnectionData, error) {
	readings, err := a.indicators.Readings(conn.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return ConnectionData{}, err
	}
	id := conn.ID
	return NewConnectionData(conn, readings, func() bool {
		return a.pending.HasPending(id)
	}), nil
}
