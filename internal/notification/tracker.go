package notification

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/models"
)

// Store persists notifications.
type Store interface {
	CreateNotification(ctx context.Context, n *models.PendingNotification) error
	AcknowledgeNotification(ctx context.Context, id string, at time.Time) error
	DeleteNotifications(ctx context.Context, connectionID string) error
	ListPendingNotifications(ctx context.Context) ([]models.PendingNotification, error)
}

// Tracker keeps pending notifications per connection. HasPending reads a
// per-connection atomic counter and never waits for raise or acknowledge.
type Tracker struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time

	mu            sync.Mutex
	notifications map[string]*models.PendingNotification
	byConnection  map[string][]string

	pending sync.Map // connection id -> *atomic.Int64
}

func NewTracker(store Store, log logrus.FieldLogger) *Tracker {
	return &Tracker{
		store:         store,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		notifications: make(map[string]*models.PendingNotification),
		byConnection:  make(map[string][]string),
	}
}

func (t *Tracker) counter(connectionID string) *atomic.Int64 {
	if c, ok := t.pending.Load(connectionID); ok {
		return c.(*atomic.Int64)
	}
	c, _ := t.pending.LoadOrStore(connectionID, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// Load restores unacknowledged notifications from the store.
func (t *Tracker) Load(ctx context.Context) error {
	list, err := t.store.ListPendingNotifications(ctx)
	if err != nil {
		return models.Infrastructure("load notifications", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range list {
		n := list[i]
		t.notifications[n.ID] = &n
		t.byConnection[n.ConnectionID] = append(t.byConnection[n.ConnectionID], n.ID)
		t.counter(n.ConnectionID).Add(1)
	}
	return nil
}

// Raise records a new pending notification for the connection.
func (t *Tracker) Raise(ctx context.Context, connectionID string, typ models.NotificationType, payload string) (models.PendingNotification, error) {
	now := t.now()
	n := models.PendingNotification{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Type:         typ,
		Payload:      payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := t.store.CreateNotification(ctx, &n); err != nil {
		return models.PendingNotification{}, models.Infrastructure("create notification", err)
	}

	t.mu.Lock()
	stored := n
	t.notifications[n.ID] = &stored
	t.byConnection[connectionID] = append(t.byConnection[connectionID], n.ID)
	t.counter(connectionID).Add(1)
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"connection_id":   connectionID,
		"notification_id": n.ID,
		"type":            typ,
	}).Info("notification raised")
	return n, nil
}

// Acknowledge marks the notification as received. Acknowledging twice is
// not an error. The store write happens outside the lock; the counter is
// decremented only by the call that commits the acknowledgement.
func (t *Tracker) Acknowledge(ctx context.Context, notificationID string) (models.PendingNotification, error) {
	t.mu.Lock()
	n, ok := t.notifications[notificationID]
	if !ok {
		t.mu.Unlock()
		return models.PendingNotification{}, models.ErrNotFound
	}
	snapshot := *n
	t.mu.Unlock()
	if snapshot.Acknowledged {
		return snapshot, nil
	}

	now := t.now()
	if err := t.store.AcknowledgeNotification(ctx, notificationID, now); err != nil {
		return snapshot, models.Infrastructure("acknowledge notification", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot.Acknowledged = true
	snapshot.UpdatedAt = now
	n, ok = t.notifications[notificationID]
	if !ok {
		// discarded meanwhile
		return snapshot, nil
	}
	if n.Acknowledged {
		return *n, nil
	}
	n.Acknowledged = true
	n.UpdatedAt = now
	t.counter(n.ConnectionID).Add(-1)
	return *n, nil
}

func (t *Tracker) Get(notificationID string) (models.PendingNotification, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.notifications[notificationID]
	if !ok {
		return models.PendingNotification{}, models.ErrNotFound
	}
	return *n, nil
}

// HasPending reports whether the connection has an unacknowledged notification.
func (t *Tracker) HasPending(connectionID string) bool {
	c, ok := t.pending.Load(connectionID)
	return ok && c.(*atomic.Int64).Load() > 0
}

// Pending lists the unacknowledged notifications of a connection, oldest first.
func (t *Tracker) Pending(connectionID string) []models.PendingNotification {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.PendingNotification
	for _, id := range t.byConnection[connectionID] {
		if n := t.notifications[id]; n != nil && !n.Acknowledged {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Discard drops every notification of the connection.
func (t *Tracker) Discard(ctx context.Context, connectionID string) error {
	if err := t.store.DeleteNotifications(ctx, connectionID); err != nil {
		return models.Infrastructure("delete notifications", err)
	}
	t.mu.Lock()
	for _, id := range t.byConnection[connectionID] {
		delete(t.notifications, id)
	}
	delete(t.byConnection, connectionID)
	t.pending.Delete(connectionID)
	t.mu.Unlock()
	return nil
}
