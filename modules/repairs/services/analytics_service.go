package services

import (
	"context"
	"time"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/pkg/composables"
)

// Overview is the read model the analytics endpoint serves. Rates are
// fractions of all jobs ever created.
type Overview struct {
	TotalJobs        int64
	DeliveredJobs    int64
	CancelledJobs    int64
	CompletionRate   float64
	CancellationRate float64
	AvgCycleTime     time.Duration
	DwellByState     []repairjob.StateDwell
}

type AnalyticsService struct {
	repo repairjob.AnalyticsRepository
}

func NewAnalyticsService(repo repairjob.AnalyticsRepository) *AnalyticsService {
	return &AnalyticsService{repo: repo}
}

func (s *AnalyticsService) Overview(ctx context.Context) (Overview, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (Overview, error) {
		summary, err := s.repo.Summary(txCtx)
		if err != nil {
			return Overview{}, err
		}
		dwell, err := s.repo.DwellByState(txCtx)
		if err != nil {
			return Overview{}, err
		}

		o := Overview{
			TotalJobs:     summary.TotalJobs,
			DeliveredJobs: summary.DeliveredJobs,
			CancelledJobs: summary.CancelledJobs,
			AvgCycleTime:  summary.AvgCycleTime,
			DwellByState:  dwell,
		}
		if summary.TotalJobs > 0 {
			o.CompletionRate = float64(summary.DeliveredJobs) / float64(summary.TotalJobs)
			o.CancellationRate = float64(summary.CancelledJobs) / float64(summary.TotalJobs)
		}
		return o, nil
	})
}
