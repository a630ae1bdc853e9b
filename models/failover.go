package models

import (
	"time"

	"github.com/google/uuid"
)

// FailoverTarget names which integration is currently serving traffic
type FailoverTarget string

const (
	FailoverPrimary FailoverTarget = "primary"
	FailoverBackup  FailoverTarget = "backup"
)

// Other returns the opposite target
func (t FailoverTarget) Other() FailoverTarget {
	if t == FailoverBackup {
		return FailoverPrimary
	}
	return FailoverBackup
}

// FailoverConfig pairs a primary and backup integration for one integration type
type FailoverConfig struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	OrgID              uuid.UUID      `json:"org_id" db:"org_id"`
	IntegrationType    string         `json:"integration_type" db:"integration_type"`
	PrimaryProvider    string         `json:"primary_provider" db:"primary_provider"`
	BackupProvider     string         `json:"backup_provider" db:"backup_provider"`
	FailureThreshold   int            `json:"failure_threshold" db:"failure_threshold"`
	AutoFailover       bool           `json:"auto_failover" db:"auto_failover"`
	AutoRecovery       bool           `json:"auto_recovery" db:"auto_recovery"`
	CurrentActive      FailoverTarget `json:"current_active" db:"current_active"`
	FailoverCount      int            `json:"failover_count" db:"failover_count"`
	LastFailoverAt     *time.Time     `json:"last_failover_at,omitempty" db:"last_failover_at"`
	LastFailoverReason string         `json:"last_failover_reason,omitempty" db:"last_failover_reason"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the FailoverConfig model
func (FailoverConfig) TableName() string {
	return "failover_configs"
}

// ActiveProvider returns the provider currently serving the integration
func (c *FailoverConfig) ActiveProvider() string {
	if c.CurrentActive == FailoverBackup {
		return c.BackupProvider
	}
	return c.PrimaryProvider
}
