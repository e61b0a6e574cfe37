package strategy

import (
	"context"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/utils"
)

// StoreMaintenanceStrategy compresses aged chunks and drops expired ones.
type StoreMaintenanceStrategy struct {
	logger *logger.Logger
	store  *tsstore.Store
	clock  func() time.Time
}

func NewStoreMaintenanceStrategy(log *logger.Logger, store *tsstore.Store) *StoreMaintenanceStrategy {
	return &StoreMaintenanceStrategy{logger: log, store: store, clock: utils.NowUTC}
}

func (s *StoreMaintenanceStrategy) GetType() entity.JobType {
	return entity.JobTypeStoreMaintenance
}

func (s *StoreMaintenanceStrategy) Execute(ctx context.Context, job *entity.Job) (string, error) {
	report, err := s.store.Maintain(ctx, s.clock())
	s.logger.InfoContext(ctx, "Store maintenance done",
		logger.Field("compressed", report.Compressed), logger.Field("dropped", report.Dropped))
	return toJSON(map[string]any{"report": report, "tables": s.store.Stats()}), err
}
