package models

import "time"

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"

	AlertMaxDrawdown         = "max_drawdown"
	AlertConsecutiveFailures = "consecutive_failures"
	AlertLowWinRate          = "low_win_rate"
	AlertHighLatency         = "high_latency"
	AlertStaleShadow         = "stale_shadow"
	AlertCircuitOpen         = "circuit_open"
)

// SafetyAlert is append-only; only the acknowledgement fields change.
type SafetyAlert struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement"`
	Asset     string  `gorm:"type:varchar(80);not null;index:idx_safety_alerts_asset_type,priority:1"`
	Type      string  `gorm:"type:varchar(40);not null;index:idx_safety_alerts_asset_type,priority:2"`
	Severity  string  `gorm:"type:varchar(10);not null;index"`
	Message   string  `gorm:"type:text;not null"`
	Value     float64 `gorm:"not null;default:0"`
	Threshold float64 `gorm:"not null;default:0"`

	Acknowledged   bool       `gorm:"not null;default:false;index"`
	AcknowledgedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (SafetyAlert) TableName() string {
	return "safety_alerts"
}

// SeverityRank sorts critical first.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}
