package models

import "time"

type ExamStatus string

const (
	ExamUpcoming ExamStatus = "UPCOMING"
	ExamRunning  ExamStatus = "RUNNING"
	ExamFinished ExamStatus = "FINISHED"
)

// Exam is the part of the exam configuration the monitoring core reads.
type Exam struct {
	ID               uint                  `gorm:"primaryKey" json:"id"`
	InstitutionID    uint                  `gorm:"index" json:"institution_id"`
	Name             string                `gorm:"size:255" json:"name"`
	Status           ExamStatus            `gorm:"size:32;index" json:"status"`
	ClientSecretHash string                `json:"-"`
	Indicators       []IndicatorDefinition `json:"indicators,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// EventType names a stream of client event samples.
type EventType string

const (
	EventLastPing      EventType = "LAST_PING"
	EventBatteryStatus EventType = "BATTERY_STATUS"
	EventWLANStatus    EventType = "WLAN_STATUS"
	EventErrorLog      EventType = "ERROR_LOG"
	EventWarnLog       EventType = "WARN_LOG"
	EventInfoLog       EventType = "INFO_LOG"
)

// IndicatorType names a derived metric shown in the monitoring view.
type IndicatorType string

const (
	IndicatorLastPing      IndicatorType = "LAST_PING"
	IndicatorBatteryStatus IndicatorType = "BATTERY_STATUS"
	IndicatorWLANStatus    IndicatorType = "WLAN_STATUS"
	IndicatorErrorCount    IndicatorType = "ERROR_COUNT"
	IndicatorWarnCount     IndicatorType = "WARN_COUNT"
)

// UpdateRule selects how an indicator folds a new sample into its value.
type UpdateRule string

const (
	RuleLastValue      UpdateRule = "LAST_VALUE"
	RuleRunningAverage UpdateRule = "RUNNING_AVERAGE"
	RuleCount          UpdateRule = "COUNT"
	RuleMaxDeviation   UpdateRule = "MAX_DEVIATION"
)

func (r UpdateRule) Valid() bool {
	switch r {
	case RuleLastValue, RuleRunningAverage, RuleCount, RuleMaxDeviation:
		return true
	}
	return false
}

// IndicatorDefinition is the static per-exam configuration of one indicator.
type IndicatorDefinition struct {
	ID     uint          `gorm:"primaryKey" json:"id"`
	ExamID uint          `gorm:"index" json:"exam_id"`
	Name   string        `gorm:"size:255" json:"name"`
	Type   IndicatorType `gorm:"size:32" json:"type"`
	// EventType is the event stream this indicator consumes.
	EventType   EventType   `gorm:"size:32" json:"event_type"`
	Rule        UpdateRule  `gorm:"size:32" json:"rule"`
	WindowSize  int         `json:"window_size"`
	DecayFactor float64     `json:"decay_factor"`
	Baseline    float64     `json:"baseline"`
	Thresholds  []Threshold `json:"thresholds"`
}

// Threshold maps a lower bound to a display color.
type Threshold struct {
	ID                    uint    `gorm:"primaryKey" json:"-"`
	IndicatorDefinitionID uint    `gorm:"index" json:"-"`
	Value                 float64 `json:"value"`
	Color                 string  `gorm:"size:16" json:"color"`
}
