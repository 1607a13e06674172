package monitoring

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/models"
)

// Feed serves the connection table of a whole exam to polling consoles.
type Feed struct {
	connections ConnectionReader
	aggregator  *Aggregator
	log         logrus.FieldLogger
}

func NewFeed(connections ConnectionReader, aggregator *Aggregator, log logrus.FieldLogger) *Feed {
	return &Feed{connections: connections, aggregator: aggregator, log: log}
}

// Refresh returns snapshots of the exam's connections whose status is in
// visible (all statuses when visible is empty), ordered by creation time.
// Connections archived between listing and snapshotting are skipped.
func (f *Feed) Refresh(examID uint, visible ...models.ConnectionStatus) ([]ConnectionData, error) {
	candidates := f.connections.ListByExam(examID, visible...)

	allowed := make(map[models.ConnectionStatus]struct{}, len(visible))
	for _, s := range visible {
		allowed[s] = struct{}{}
	}

	out := make([]ConnectionData, 0, len(candidates))
	for _, c := range candidates {
		data, err := f.aggregator.Snapshot(c.ID)
		if errors.Is(err, models.ErrNotFound) {
			f.log.WithField("connection_id", c.ID).Debug("connection vanished during refresh")
			continue
		}
		if err != nil {
			return nil, err
		}
		// the status may have moved on since listing
		if len(allowed) > 0 {
			if _, ok := allowed[data.Connection.Status]; !ok {
				continue
			}
		}
		out = append(out, data)
	}
	return out, nil
}
