package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/indicator"
	"github.com/zaqqye/seb_monitor/internal/models"
	"github.com/zaqqye/seb_monitor/internal/monitoring"
	"github.com/zaqqye/seb_monitor/internal/notification"
	"github.com/zaqqye/seb_monitor/internal/session"
	"github.com/zaqqye/seb_monitor/internal/utils"
	"github.com/zaqqye/seb_monitor/internal/ws"
)

type ExamSource interface {
	GetExam(ctx context.Context, id uint) (models.Exam, error)
}

// InstructionSender delivers instructions to connected SEB clients.
type InstructionSender interface {
	Notify(connectionID string, msg ws.ClientMessage)
}

type Options struct {
	MinClientVersion string
}

// Service translates client and proctor requests into calls on the
// registry, the indicator engine and the notification tracker.
type Service struct {
	exams      ExamSource
	registry   *session.Registry
	indicators *indicator.Engine
	tracker    *notification.Tracker
	aggregator *monitoring.Aggregator
	feed       *monitoring.Feed
	sender     InstructionSender
	log        logrus.FieldLogger
	opts       Options
}

func New(
	exams ExamSource,
	registry *session.Registry,
	indicators *indicator.Engine,
	tracker *notification.Tracker,
	sender InstructionSender,
	log logrus.FieldLogger,
	opts Options,
) *Service {
	agg := monitoring.NewAggregator(registry, indicators, tracker)
	return &Service{
		exams:      exams,
		registry:   registry,
		indicators: indicators,
		tracker:    tracker,
		aggregator: agg,
		feed:       monitoring.NewFeed(registry, agg, log),
		sender:     sender,
		log:        log,
		opts:       opts,
	}
}

// Ping is what a SEB client submits periodically.
type Ping struct {
	ExamID       uint
	ClientToken  string
	ClientSecret string
	Metadata     models.ClientMetadata
	Timestamp    time.Time
}

// OnPing registers the client on its first ping and authenticates it once
// it presents the exam secret. Later pings refresh the last-seen time and
// feed the elapsed interval into the LAST_PING event stream.
func (s *Service) OnPing(ctx context.Context, p Ping) (models.ClientConnection, error) {
	exam, err := s.exams.GetExam(ctx, p.ExamID)
	if err != nil {
		return models.ClientConnection{}, models.Infrastructure("get exam", err)
	}

	conn, err := s.registry.Latest(p.ExamID, p.ClientToken)
	switch {
	case err == nil && conn.Status.IsTerminal():
		// a closed or disabled session is final; the client has to start over with a new token
		s.log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"status":        conn.Status,
		}).Warn("ping for terminated connection")
		return conn, fmt.Errorf("connection %s is %s: %w", conn.ID, conn.Status, models.ErrConnectionTerminated)
	case errors.Is(err, models.ErrNotFound):
		if exam.Status != models.ExamRunning {
			return models.ClientConnection{}, models.ErrExamNotRunning
		}
		conn, err = s.registry.Register(ctx, exam.ID, exam.InstitutionID, p.ClientToken, p.Metadata)
		if errors.Is(err, models.ErrDuplicateConnection) {
			// a concurrent first ping of the same client won the race
			conn, err = s.registry.Lookup(p.ExamID, p.ClientToken)
		}
		if err != nil {
			return models.ClientConnection{}, err
		}
		if err := s.indicators.Attach(ctx, conn.ID, exam.ID); err != nil {
			return conn, err
		}
	case err != nil:
		return models.ClientConnection{}, err
	default:
		if err := s.indicators.Attach(ctx, conn.ID, conn.ExamID); err != nil {
			return conn, err
		}
		if err := s.samplePing(conn, p.Timestamp); err != nil {
			return conn, err
		}
	}

	if conn.Status == models.StatusConnectionRequested && p.ClientSecret != "" {
		if !utils.CheckSecret(exam.ClientSecretHash, p.ClientSecret) {
			s.log.WithField("connection_id", conn.ID).Warn("ping with invalid exam credentials")
			return conn, models.ErrInvalidCredentials
		}
		return s.registry.Advance(ctx, conn.ID, models.StatusAuthenticated, p.Timestamp)
	}
	return s.registry.Get(conn.ID)
}

func (s *Service) samplePing(conn models.ClientConnection, at time.Time) error {
	elapsed := at.Sub(conn.LastSeenAt)
	if err := s.registry.Touch(conn.ID, at); err != nil {
		return err
	}
	if elapsed < 0 {
		return nil
	}
	return s.applyEvent(conn.ID, models.EventLastPing, float64(elapsed.Milliseconds()), at)
}

// OnHandshake confirms the session of an authenticated client. Clients
// below the configured minimum version fail the integrity check and are
// disabled.
func (s *Service) OnHandshake(ctx context.Context, connectionID, clientVersion string, at time.Time) (models.ClientConnection, error) {
	if !utils.MeetsMinimumVersion(clientVersion, s.opts.MinClientVersion) {
		s.log.WithFields(logrus.Fields{
			"connection_id":  connectionID,
			"client_version": clientVersion,
		}).Warn("client failed integrity check")
		return s.terminate(ctx, connectionID, models.StatusDisabled, at, "client version not supported")
	}
	return s.registry.Advance(ctx, connectionID, models.StatusEstablished, at)
}

// Event is one client event sample.
type Event struct {
	Type      models.EventType
	Value     float64
	Timestamp time.Time
}

// OnEvent applies a batch of events. Events for closed or disabled
// connections are dropped without error.
func (s *Service) OnEvent(ctx context.Context, connectionID string, events ...Event) error {
	conn, err := s.registry.Get(connectionID)
	if err != nil {
		return err
	}
	if conn.Status.IsTerminal() {
		return nil
	}
	for _, ev := range events {
		if err := s.registry.Touch(connectionID, ev.Timestamp); err != nil {
			return err
		}
		if err := s.applyEvent(connectionID, ev.Type, ev.Value, ev.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyEvent(connectionID string, typ models.EventType, value float64, at time.Time) error {
	err := s.indicators.ApplyEvent(connectionID, typ, value, at)
	if errors.Is(err, models.ErrNotFound) {
		// registered before a restart; indicators come back with the next Attach
		return nil
	}
	return err
}

// OnQuit closes the connection on the client's request.
func (s *Service) OnQuit(ctx context.Context, connectionID string, at time.Time) (models.ClientConnection, error) {
	conn, err := s.registry.Advance(ctx, connectionID, models.StatusClosed, at)
	if err != nil {
		return conn, err
	}
	s.indicators.Close(connectionID)
	return conn, nil
}

// DisableConnection disables the connection and tells the client to quit.
func (s *Service) DisableConnection(ctx context.Context, connectionID string) (models.ClientConnection, error) {
	return s.terminate(ctx, connectionID, models.StatusDisabled, time.Now().UTC(), "disabled by proctor")
}

// CloseConnection closes the connection on proctor request.
func (s *Service) CloseConnection(ctx context.Context, connectionID string) (models.ClientConnection, error) {
	return s.terminate(ctx, connectionID, models.StatusClosed, time.Now().UTC(), "closed by proctor")
}

// CloseConnections closes the given connections of an exam on proctor
// request and tells each client to quit. Without ids every connection of
// the exam that is not yet closed or disabled is closed. Unknown ids, ids
// of other exams and terminated connections are skipped. The ids actually
// closed are returned alongside the collected failures.
func (s *Service) CloseConnections(ctx context.Context, examID uint, ids ...string) ([]string, error) {
	if len(ids) == 0 {
		for _, c := range s.registry.ListByExam(examID) {
			if !c.Status.IsTerminal() {
				ids = append(ids, c.ID)
			}
		}
	}

	var result *multierror.Error
	closed := make([]string, 0, len(ids))
	at := time.Now().UTC()
	for _, id := range ids {
		conn, err := s.registry.Get(id)
		if err != nil || conn.ExamID != examID || conn.Status.IsTerminal() {
			s.log.WithFields(logrus.Fields{"exam_id": examID, "connection_id": id}).Debug("quit skipped")
			continue
		}
		if _, err := s.terminate(ctx, id, models.StatusClosed, at, "quit by proctor"); err != nil {
			if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrIllegalStateTransition) {
				// closed or archived concurrently
				continue
			}
			result = multierror.Append(result, fmt.Errorf("close %s: %w", id, err))
			continue
		}
		closed = append(closed, id)
	}
	s.log.WithFields(logrus.Fields{"exam_id": examID, "closed": len(closed)}).Info("exam connections closed")
	return closed, result.ErrorOrNil()
}

func (s *Service) terminate(ctx context.Context, connectionID string, status models.ConnectionStatus, at time.Time, reason string) (models.ClientConnection, error) {
	conn, err := s.registry.Advance(ctx, connectionID, status, at)
	if err != nil {
		return conn, err
	}
	s.indicators.Close(connectionID)
	if s.sender != nil {
		s.sender.Notify(connectionID, ws.ClientMessage{Type: ws.MessageQuit, Status: string(status), Message: reason})
	}
	return conn, nil
}

func (s *Service) RaiseNotification(ctx context.Context, connectionID string, typ models.NotificationType, payload string) (models.PendingNotification, error) {
	if _, err := s.registry.Get(connectionID); err != nil {
		return models.PendingNotification{}, err
	}
	n, err := s.tracker.Raise(ctx, connectionID, typ, payload)
	if err != nil {
		return n, err
	}
	if s.sender != nil {
		s.sender.Notify(connectionID, ws.ClientMessage{
			Type:           ws.MessageNotification,
			NotificationID: n.ID,
			Kind:           string(n.Type),
			Message:        n.Payload,
		})
	}
	return n, nil
}

func (s *Service) AcknowledgeNotification(ctx context.Context, notificationID string) (models.PendingNotification, error) {
	return s.tracker.Acknowledge(ctx, notificationID)
}

// AcknowledgeClientNotification acknowledges on behalf of the client that
// owns the notification. Notifications of other connections are reported as
// not found.
func (s *Service) AcknowledgeClientNotification(ctx context.Context, connectionID, notificationID string) (models.PendingNotification, error) {
	n, err := s.tracker.Get(notificationID)
	if err != nil {
		return n, err
	}
	if n.ConnectionID != connectionID {
		return models.PendingNotification{}, models.ErrNotFound
	}
	return s.tracker.Acknowledge(ctx, notificationID)
}

// PendingNotifications lists the connection's unacknowledged notifications.
func (s *Service) PendingNotifications(connectionID string) ([]models.PendingNotification, error) {
	if _, err := s.registry.Get(connectionID); err != nil {
		return nil, err
	}
	return s.tracker.Pending(connectionID), nil
}

func (s *Service) Connection(connectionID string) (models.ClientConnection, error) {
	return s.registry.Get(connectionID)
}

func (s *Service) Snapshot(connectionID string) (monitoring.ConnectionData, error) {
	return s.aggregator.Snapshot(connectionID)
}

func (s *Service) Refresh(ctx context.Context, examID uint, visible ...models.ConnectionStatus) ([]monitoring.ConnectionData, error) {
	return s.feed.Refresh(examID, visible...)
}

// ArchiveExam removes every connection of the exam. Failures of single
// connections do not stop the others; they are returned together.
func (s *Service) ArchiveExam(ctx context.Context, examID uint) (int, error) {
	var result *multierror.Error
	archived := 0
	for _, c := range s.registry.ListByExam(examID) {
		if err := s.archive(ctx, c.ID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			result = multierror.Append(result, err)
			continue
		}
		archived++
	}
	s.indicators.Invalidate(examID)
	s.log.WithFields(logrus.Fields{"exam_id": examID, "archived": archived}).Info("exam connections archived")
	return archived, result.ErrorOrNil()
}

// archive drops notifications first so a failed discard leaves the
// connection listed and the exam can be archived again.
func (s *Service) archive(ctx context.Context, connectionID string) error {
	if err := s.tracker.Discard(ctx, connectionID); err != nil {
		return err
	}
	if err := s.registry.Archive(ctx, connectionID); err != nil {
		return err
	}
	s.indicators.Detach(connectionID)
	return nil
}

// Restore reloads persisted state and re-attaches indicators of
// connections that are still active.
func (s *Service) Restore(ctx context.Context) error {
	if err := s.registry.Load(ctx); err != nil {
		return err
	}
	if err := s.tracker.Load(ctx); err != nil {
		return err
	}
	var result *multierror.Error
	for _, c := range s.registry.ListActive() {
		if err := s.indicators.Attach(ctx, c.ID, c.ExamID); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) Stats() map[string]int {
	return s.registry.Stats()
}
