package database

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/zaqqye/seb_monitor/internal/config"
	"github.com/zaqqye/seb_monitor/internal/models"
	"github.com/zaqqye/seb_monitor/internal/utils"
)

// DefaultIndicators is the indicator set given to seeded exams.
func DefaultIndicators() []models.IndicatorDefinition {
	return []models.IndicatorDefinition{
		{
			Name: "Last Ping", Type: models.IndicatorLastPing, EventType: models.EventLastPing,
			Rule: models.RuleLastValue,
			Thresholds: []models.Threshold{
				{Value: 0, Color: "green"}, {Value: 5000, Color: "yellow"}, {Value: 10000, Color: "red"},
			},
		},
		{
			Name: "Battery", Type: models.IndicatorBatteryStatus, EventType: models.EventBatteryStatus,
			Rule: models.RuleRunningAverage, WindowSize: 5,
			Thresholds: []models.Threshold{
				{Value: 0, Color: "red"}, {Value: 20, Color: "yellow"}, {Value: 50, Color: "green"},
			},
		},
		{
			Name: "WLAN", Type: models.IndicatorWLANStatus, EventType: models.EventWLANStatus,
			Rule: models.RuleMaxDeviation, Baseline: 100,
			Thresholds: []models.Threshold{
				{Value: 0, Color: "green"}, {Value: 40, Color: "yellow"}, {Value: 70, Color: "red"},
			},
		},
		{
			Name: "Errors", Type: models.IndicatorErrorCount, EventType: models.EventErrorLog,
			Rule: models.RuleCount,
			Thresholds: []models.Threshold{
				{Value: 0, Color: "green"}, {Value: 1, Color: "yellow"}, {Value: 5, Color: "red"},
			},
		},
	}
}

// SeedDemoExam creates one running exam with the default indicators when
// the database holds no exam yet.
func SeedDemoExam(db *gorm.DB, cfg *config.Config, log logrus.FieldLogger) error {
	var count int64
	if err := db.Model(&models.Exam{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashSecret(cfg.DemoExamSecret)
	if err != nil {
		return err
	}
	exam := models.Exam{
		InstitutionID:    1,
		Name:             "Demo Exam",
		Status:           models.ExamRunning,
		ClientSecretHash: hashed,
		Indicators:       DefaultIndicators(),
	}
	if err := db.Create(&exam).Error; err != nil {
		return err
	}
	log.WithField("exam_id", exam.ID).Info("seeded demo exam")
	return nil
}
