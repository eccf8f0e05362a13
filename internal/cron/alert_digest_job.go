package cron

import (
	"context"
	"fmt"

	"github.com/dmoralesb/storefront-backend/pkg/enums"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
)

type alertCounter interface {
	ActiveCounts(ctx context.Context) (map[enums.AlertType]int64, error)
}

// AlertDigestJobParams configure the active-alert digest.
type AlertDigestJobParams struct {
	Logger *logger.Logger
	Alerts alertCounter
}

// NewAlertDigestJob builds the cron job that logs a digest of unresolved
// inventory alerts so operators see them without querying the API.
func NewAlertDigestJob(params AlertDigestJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("alert service required")
	}
	return &alertDigestJob{
		logg:   params.Logger,
		alerts: params.Alerts,
	}, nil
}

type alertDigestJob struct {
	logg   *logger.Logger
	alerts alertCounter
}

func (j *alertDigestJob) Name() string { return "alert-digest" }

func (j *alertDigestJob) Run(ctx context.Context) error {
	counts, err := j.alerts.ActiveCounts(ctx)
	if err != nil {
		return fmt.Errorf("count active alerts: %w", err)
	}

	var total int64
	fields := make(map[string]any, len(counts)+1)
	for alertType, count := range counts {
		fields[alertType.String()] = count
		total += count
	}
	fields["total"] = total

	ctx = j.logg.WithFields(ctx, fields)
	if total == 0 {
		j.logg.Info(ctx, "no active inventory alerts")
		return nil
	}
	j.logg.Warn(ctx, "active inventory alerts outstanding")
	return nil
}
