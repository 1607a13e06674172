package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/lockmap"
	"github.com/zaqqye/seb_monitor/internal/models"
)

// Store persists connection records. Implementations report missing rows
// as models.ErrNotFound; every other failure is treated as infrastructure.
type Store interface {
	CreateConnection(ctx context.Context, conn *models.ClientConnection) error
	UpdateConnection(ctx context.Context, conn *models.ClientConnection) error
	ArchiveConnection(ctx context.Context, id string) error
	ListConnections(ctx context.Context) ([]models.ClientConnection, error)
}

type tokenKey struct {
	examID uint
	token  string
}

// entry holds one connection. writeMu serializes status changes and the
// store writes behind them; mu only guards conn and archived and is never
// held across a store call, so readers do not wait for the database.
type entry struct {
	created time.Time
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     models.ClientConnection
	archived bool
}

func (e *entry) load() (models.ClientConnection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn, e.archived
}

// Registry is the authoritative, in-memory view of every connection's
// lifecycle, written through to a Store. Lock order is entry.writeMu,
// entry.mu, Registry.mu.
type Registry struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time

	registering *lockmap.LockMap[tokenKey]

	mu     sync.RWMutex
	conns  map[string]*entry
	byExam map[uint][]string
	active map[tokenKey]string
	// latest is the most recently created connection of a pair, terminal or not
	latest map[tokenKey]string
}

func NewRegistry(store Store, log logrus.FieldLogger) *Registry {
	return &Registry{
		store:       store,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		registering: lockmap.New[tokenKey](),
		conns:       make(map[string]*entry),
		byExam:      make(map[uint][]string),
		active:      make(map[tokenKey]string),
		latest:      make(map[tokenKey]string),
	}
}

// Load fills the registry from the store. It is meant to run once at boot,
// before the registry serves any traffic.
func (r *Registry) Load(ctx context.Context) error {
	conns, err := r.store.ListConnections(ctx)
	if err != nil {
		return models.Infrastructure("load connections", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conns {
		r.insertLocked(c)
	}
	r.log.WithField("connections", len(conns)).Info("connection registry loaded")
	return nil
}

func (r *Registry) insertLocked(c models.ClientConnection) {
	key := tokenKey{c.ExamID, c.ClientToken}
	r.conns[c.ID] = &entry{created: c.CreatedAt, conn: c}
	r.byExam[c.ExamID] = append(r.byExam[c.ExamID], c.ID)
	if !c.Status.IsTerminal() {
		r.active[key] = c.ID
	}
	if prevID, ok := r.latest[key]; ok {
		if prev, ok := r.conns[prevID]; ok && prev.created.After(c.CreatedAt) {
			return
		}
	}
	r.latest[key] = c.ID
}

// Register creates a connection in CONNECTION_REQUESTED state. It fails with
// ErrDuplicateConnection while another connection for the same exam and
// client token is not yet closed or disabled.
func (r *Registry) Register(ctx context.Context, examID, institutionID uint, clientToken string, meta models.ClientMetadata) (models.ClientConnection, error) {
	key := tokenKey{examID, clientToken}
	unlock := r.registering.Lock(key)
	defer unlock.Unlock()

	r.mu.RLock()
	_, exists := r.active[key]
	r.mu.RUnlock()
	if exists {
		return models.ClientConnection{}, models.ErrDuplicateConnection
	}

	now := r.now()
	conn := models.ClientConnection{
		ID:            uuid.NewString(),
		ExamID:        examID,
		InstitutionID: institutionID,
		ClientToken:   clientToken,
		Status:        models.StatusConnectionRequested,
		ClientAddress: meta.ClientAddress,
		ClientVersion: meta.ClientVersion,
		ClientOS:      meta.ClientOS,
		VDI:           meta.VDI,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
	}
	if err := r.store.CreateConnection(ctx, &conn); err != nil {
		return models.ClientConnection{}, models.Infrastructure("create connection", err)
	}

	r.mu.Lock()
	r.insertLocked(conn)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"exam_id":       examID,
	}).Debug("connection registered")
	return conn, nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return e, nil
}

// Get returns a copy of the current connection record.
func (r *Registry) Get(id string) (models.ClientConnection, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.ClientConnection{}, err
	}
	conn, archived := e.load()
	if archived {
		return models.ClientConnection{}, models.ErrNotFound
	}
	return conn, nil
}

// Lookup returns the non-terminal connection of the given exam and client token.
func (r *Registry) Lookup(examID uint, clientToken string) (models.ClientConnection, error) {
	r.mu.RLock()
	id, ok := r.active[tokenKey{examID, clientToken}]
	r.mu.RUnlock()
	if !ok {
		return models.ClientConnection{}, models.ErrNotFound
	}
	return r.Get(id)
}

// Latest returns the most recently registered connection of the given exam
// and client token, including closed and disabled ones.
func (r *Registry) Latest(examID uint, clientToken string) (models.ClientConnection, error) {
	r.mu.RLock()
	id, ok := r.latest[tokenKey{examID, clientToken}]
	r.mu.RUnlock()
	if !ok {
		return models.ClientConnection{}, models.ErrNotFound
	}
	return r.Get(id)
}

// ListActive returns every connection not yet closed or disabled.
func (r *Registry) ListActive() []models.ClientConnection {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.active))
	for _, id := range r.active {
		if e, ok := r.conns[id]; ok {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	out := make([]models.ClientConnection, 0, len(entries))
	for _, e := range entries {
		if c, archived := e.load(); !archived {
			out = append(out, c)
		}
	}
	return out
}

// Advance moves the connection to target if the state machine allows it.
// The store write happens outside the record lock: readers keep seeing the
// previous status until the write succeeds, and nothing changes if it fails.
func (r *Registry) Advance(ctx context.Context, id string, target models.ConnectionStatus, at time.Time) (models.ClientConnection, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.ClientConnection{}, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	current, archived := e.load()
	if archived {
		return models.ClientConnection{}, models.ErrNotFound
	}
	if !models.CanTransition(current.Status, target) {
		return current, &models.TransitionError{ConnectionID: id, From: current.Status, To: target}
	}

	next := current
	next.Status = target
	if at.After(next.UpdatedAt) {
		next.UpdatedAt = at
	}
	if at.After(next.LastSeenAt) {
		next.LastSeenAt = at
	}
	if err := r.store.UpdateConnection(ctx, &next); err != nil {
		return current, models.Infrastructure("update connection", err)
	}

	e.mu.Lock()
	// keep a Touch that landed during the write
	if e.conn.LastSeenAt.After(next.LastSeenAt) {
		next.LastSeenAt = e.conn.LastSeenAt
	}
	e.conn = next
	if target.IsTerminal() {
		key := tokenKey{next.ExamID, next.ClientToken}
		r.mu.Lock()
		if r.active[key] == id {
			delete(r.active, key)
		}
		r.mu.Unlock()
	}
	e.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"connection_id": id,
		"from":          current.Status,
		"to":            target,
	}).Info("connection status changed")
	return next, nil
}

// Touch records a sign of life without changing the status. Timestamps
// older than the last recorded one are ignored.
func (r *Registry) Touch(id string, at time.Time) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.archived {
		return models.ErrNotFound
	}
	if at.After(e.conn.LastSeenAt) {
		e.conn.LastSeenAt = at
	}
	return nil
}

// ListByExam returns the exam's connections ordered by creation time. With no
// statuses given every connection is returned, otherwise only those whose
// status is listed.
func (r *Registry) ListByExam(examID uint, statuses ...models.ConnectionStatus) []models.ClientConnection {
	r.mu.RLock()
	ids := make([]string, len(r.byExam[examID]))
	copy(ids, r.byExam[examID])
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.conns[id]; ok {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	var filter map[models.ConnectionStatus]struct{}
	if len(statuses) > 0 {
		filter = make(map[models.ConnectionStatus]struct{}, len(statuses))
		for _, s := range statuses {
			filter[s] = struct{}{}
		}
	}

	out := make([]models.ClientConnection, 0, len(entries))
	for _, e := range entries {
		c, archived := e.load()
		if archived {
			continue
		}
		if filter != nil {
			if _, ok := filter[c.Status]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Archive soft-deletes the connection and forgets it.
func (r *Registry) Archive(ctx context.Context, id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	c, archived := e.load()
	if archived {
		return models.ErrNotFound
	}
	if err := r.store.ArchiveConnection(ctx, id); err != nil {
		return models.Infrastructure("archive connection", err)
	}

	e.mu.Lock()
	e.archived = true
	e.mu.Unlock()

	key := tokenKey{c.ExamID, c.ClientToken}
	r.mu.Lock()
	delete(r.conns, id)
	ids := r.byExam[c.ExamID]
	for i, v := range ids {
		if v == id {
			// copy so in-flight ListByExam snapshots are unaffected
			rest := make([]string, 0, len(ids)-1)
			rest = append(rest, ids[:i]...)
			r.byExam[c.ExamID] = append(rest, ids[i+1:]...)
			break
		}
	}
	if len(r.byExam[c.ExamID]) == 0 {
		delete(r.byExam, c.ExamID)
	}
	if r.active[key] == id {
		delete(r.active, key)
	}
	if r.latest[key] == id {
		delete(r.latest, key)
	}
	r.mu.Unlock()

	r.log.WithField("connection_id", id).Info("connection archived")
	return nil
}

// Stats returns counters for health reporting.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.conns),
		"active":      len(r.active),
		"exams":       len(r.byExam),
	}
}
