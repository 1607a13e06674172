package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionStatus is the lifecycle phase of a client connection.
type ConnectionStatus string

const (
	StatusConnectionRequested ConnectionStatus = "CONNECTION_REQUESTED"
	StatusAuthenticated       ConnectionStatus = "AUTHENTICATED"
	StatusEstablished         ConnectionStatus = "ESTABLISHED"
	StatusClosed              ConnectionStatus = "CLOSED"
	StatusDisabled            ConnectionStatus = "DISABLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ConnectionStatus{
	StatusConnectionRequested,
	StatusAuthenticated,
	StatusEstablished,
	StatusClosed,
	StatusDisabled,
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s ConnectionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusDisabled
}

// Valid reports whether s is one of the known connection statuses.
func (s ConnectionStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ConnectionStatus) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	switch to {
	case StatusAuthenticated:
		return from == StatusConnectionRequested
	case StatusEstablished:
		return from == StatusAuthenticated
	case StatusClosed, StatusDisabled:
		return true
	}
	return false
}

// ParseConnectionStatus accepts the status name case-insensitively.
func ParseConnectionStatus(v string) (ConnectionStatus, error) {
	s := ConnectionStatus(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown connection status %q", v)
	}
	return s, nil
}

// ParseConnectionStatuses parses a comma separated status list. Empty
// input yields nil, meaning every status.
func ParseConnectionStatuses(csv string) ([]ConnectionStatus, error) {
	var out []ConnectionStatus
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseConnectionStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ClientConnection is one exam client's attachment to one running exam.
// UpdatedAt carries the last-update time supplied by the caller, so GORM must
// not overwrite it.
type ClientConnection struct {
	ID            string           `gorm:"type:uuid;primaryKey" json:"id"`
	ExamID        uint             `gorm:"index:idx_exam_token" json:"exam_id"`
	InstitutionID uint             `gorm:"index" json:"institution_id"`
	ClientToken   string           `gorm:"size:64;index:idx_exam_token" json:"client_token"`
	Status        ConnectionStatus `gorm:"size:32;index" json:"status"`
	ClientAddress string           `gorm:"size:64" json:"client_address,omitempty"`
	ClientVersion string           `gorm:"size:64" json:"client_version,omitempty"`
	ClientOS      string           `gorm:"size:128" json:"client_os,omitempty"`
	VDI           bool             `json:"vdi"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime:false" json:"updated_at"`
	LastSeenAt    time.Time        `json:"last_seen_at"`
	DeletedAt     gorm.DeletedAt   `gorm:"index" json:"-"`
}

func (c *ClientConnection) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ClientMetadata is what a client reports about itself when it registers.
type ClientMetadata struct {
	ClientAddress string `json:"client_address"`
	ClientVersion string `json:"client_version"`
	ClientOS      string `json:"client_os"`
	VDI           bool   `json:"vdi"`
}
