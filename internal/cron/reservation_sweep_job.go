package cron

import (
	"context"
	"fmt"

	"github.com/dmoralesb/storefront-backend/pkg/logger"
)

type expiredSweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// ReservationSweepJobParams configure the expired reservation sweeper.
type ReservationSweepJobParams struct {
	Logger      *logger.Logger
	Coordinator expiredSweeper
}

// NewReservationSweepJob builds the cron job that releases lapsed cart holds.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Coordinator == nil {
		return nil, fmt.Errorf("reservation coordinator required")
	}
	return &reservationSweepJob{
		logg:        params.Logger,
		coordinator: params.Coordinator,
	}, nil
}

type reservationSweepJob struct {
	logg        *logger.Logger
	coordinator expiredSweeper
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	swept, err := j.coordinator.CleanupExpired(ctx)
	ctx = j.logg.WithField(ctx, "swept", swept)
	if err != nil {
		// partial sweeps still count; the failed rows stay for the next pass
		j.logg.Error(ctx, "reservation sweep finished with failures", err)
		return err
	}
	j.logg.Info(ctx, "reservation sweep complete")
	return nil
}
