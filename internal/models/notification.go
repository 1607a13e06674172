package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationRaiseHand   NotificationType = "RAISE_HAND"
	NotificationLockScreen  NotificationType = "LOCK_SCREEN"
	NotificationProctorMsg  NotificationType = "PROCTOR_MESSAGE"
	NotificationInstruction NotificationType = "INSTRUCTION"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationRaiseHand, NotificationLockScreen, NotificationProctorMsg, NotificationInstruction:
		return true
	}
	return false
}

// PendingNotification is a directive or alert waiting for acknowledgement.
type PendingNotification struct {
	ID           string           `gorm:"type:uuid;primaryKey" json:"id"`
	ConnectionID string           `gorm:"type:uuid;index" json:"connection_id"`
	Type         NotificationType `gorm:"size:32" json:"type"`
	Payload      string           `json:"payload,omitempty"`
	Acknowledged bool             `gorm:"index" json:"acknowledged"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (n *PendingNotification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
