package postgres

import (
	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the database and creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositoryFactoryFromDB builds a factory over an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		ControlFlags:     NewControlFlagRepository(f.db, f.logger),
		Leases:           NewLeaseRepository(f.db, f.logger),
		Actions:          NewActionRepository(f.db, f.logger),
		Ticks:            NewTickRepository(f.db, f.logger),
		ExecutionLogs:    NewExecutionLogRepository(f.db, f.logger),
		Campaigns:        NewCampaignRepository(f.db, f.logger),
		Leads:            NewLeadRepository(f.db, f.logger),
		Suppressions:     NewSuppressionRepository(f.db, f.logger),
		CampaignRuns:     NewCampaignRunRepository(f.db, f.logger),
		DistributionJobs: NewDistributionJobRepository(f.db, f.logger),
		Quotas:           NewQuotaRepository(f.db, f.logger),
		SendAttempts:     NewSendAttemptRepository(f.db, f.logger),
		AuditLogs:        NewAuditRepository(f.db, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
