package recon

import (
	"context"
	"time"
)

// StageResult describes a finished stage.
type StageResult struct {
	Stage    string
	Started  time.Time
	Duration time.Duration
	// Err is nil when the stage succeeded.
	Err error
}

// Observer receives stage boundary events. Calls happen on the goroutine
// running the pipeline, one stage at a time.
type Observer interface {
	StageStarted(ctx context.Context, stage string, at time.Time)
	StageFinished(ctx context.Context, r StageResult)
}

type nopObserver struct{}

func (nopObserver) StageStarted(context.Context, string, time.Time) {}
func (nopObserver) StageFinished(context.Context, StageResult)      {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) StageStarted(ctx context.Context, stage string, at time.Time) {
	for _, o := range obs {
		o.StageStarted(ctx, stage, at)
	}
}

func (obs Observers) StageFinished(ctx context.Context, r StageResult) {
	for _, o := range obs {
		o.StageFinished(ctx, r)
	}
}
