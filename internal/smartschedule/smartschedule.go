// Package smartschedule resolves a smart_schedule trigger's natural
// language constraint bundle into a concrete cron expression, caching
// the result on the task for 24 hours before asking the AI client again.
package smartschedule

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cronpilot/internal/models"
)

const cacheTTL = 24 * time.Hour

// CronGenerator is the subset of aiclient.Client used here, named to
// avoid a hard dependency on the concrete transport.
type CronGenerator interface {
	GenerateCronExpression(ctx context.Context, description string, constraints []byte, fallback string) (string, error)
}

// Resolver implements the caching + fallback policy described above.
type Resolver struct {
	log       *zap.Logger
	generator CronGenerator
	aiEnabled bool
	parser    cron.Parser
}

func NewResolver(log *zap.Logger, generator CronGenerator, aiEnabled bool) *Resolver {
	return &Resolver{
		log:       log,
		generator: generator,
		aiEnabled: aiEnabled,
		// standard 5-field grammar plus optional leading seconds field
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Resolve returns a valid cron expression for trig, and the (possibly
// unchanged) trigger with ComputedCron/LastOptimized updated on success.
func (r *Resolver) Resolve(ctx context.Context, taskName string, trig models.Trigger) (string, models.Trigger, error) {
	if trig.ComputedCron != "" && trig.LastOptimized != nil && time.Since(*trig.LastOptimized) < cacheTTL {
		return trig.ComputedCron, trig, nil
	}

	if !r.aiEnabled {
		return trig.FallbackCron, trig, nil
	}

	expr, err := r.generator.GenerateCronExpression(ctx, trig.NLDescription, trig.Constraints, trig.FallbackCron)
	if err != nil {
		r.log.Warn("smart schedule generation failed, using fallback",
			zap.String("task", taskName), zap.Error(err))
		return trig.FallbackCron, trig, nil
	}

	expr = strings.TrimSpace(strings.SplitN(expr, "\n", 2)[0])
	if _, parseErr := r.parser.Parse(expr); parseErr != nil {
		r.log.Warn("smart schedule produced invalid cron, using fallback",
			zap.String("task", taskName), zap.String("expr", expr), zap.Error(parseErr))
		return trig.FallbackCron, trig, nil
	}

	now := time.Now().UTC()
	trig.ComputedCron = expr
	trig.LastOptimized = &now
	return expr, trig, nil
}
