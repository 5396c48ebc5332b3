package models

import "time"

const (
	BreakerClosed   = "closed"
	BreakerHalfOpen = "half_open"
	BreakerOpen     = "open"
)

// CircuitBreakerState is the persisted breaker for one guarded service.
type CircuitBreakerState struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement"`
	ServiceName   string     `gorm:"type:varchar(80);not null;uniqueIndex"`
	Status        string     `gorm:"type:varchar(16);not null"`
	FailureCount  int        `gorm:"not null;default:0"`
	OpenedAt      *time.Time `gorm:"type:timestamptz"`
	LastFailureAt *time.Time `gorm:"type:timestamptz"`
	LastSuccessAt *time.Time `gorm:"type:timestamptz"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CircuitBreakerState) TableName() string {
	return "circuit_breaker_states"
}
