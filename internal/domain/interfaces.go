package domain

import (
	"context"
)

// AssessmentRepository persists fused risk assessments.
type AssessmentRepository interface {
	Save(ctx context.Context, a *RiskAssessment) error
	GetByID(ctx context.Context, id string) (*RiskAssessment, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*RiskAssessment, error)
}

// AlertPublisher receives assessments worth pushing to live clients.
type AlertPublisher interface {
	Publish(a *RiskAssessment)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetExternalAPIConfig() *ExternalAPIConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
