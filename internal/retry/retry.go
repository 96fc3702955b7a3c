// Package retry decides whether a failed execution qualifies for
// another attempt, computes the backoff delay, and builds the metadata
// that the engine's retry timer carries into the retry-origin execution.
package retry

import (
	"math"
	"time"

	"cronpilot/internal/models"
)

// AttemptRecord is one entry of a retry chain's bounded history.
type AttemptRecord struct {
	ExecutionID string    `json:"execution_id"`
	StartedAt   time.Time `json:"started_at"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DelayMS     int64     `json:"delay_ms"`
}

// Metadata is embedded in trigger_context for retry-origin executions.
type Metadata struct {
	AttemptCount     int                    `json:"retry_count"`
	MaxAttempts      int                    `json:"max_attempts"`
	Backoff          models.BackoffStrategy `json:"backoff"`
	InitialDelay     string                 `json:"initial_delay"`
	MaxDelay         string                 `json:"max_delay"`
	Accept           models.RetryAcceptSet  `json:"accept"`
	PreviousAttempts []AttemptRecord        `json:"previous_attempts"`
}

// Controller implements the retry decision and scheduling logic.
type Controller struct{}

func NewController() *Controller {
	return &Controller{}
}

// ShouldRetry reports whether policy and the prior attempt count permit
// another attempt for the execution's terminal status.
func (c *Controller) ShouldRetry(policy *models.RetryPolicy, attemptCount int, status models.ExecutionStatus) bool {
	if policy == nil {
		return false
	}
	if attemptCount >= policy.MaxAttempts {
		return false
	}
	switch policy.Accept {
	case models.RetryAcceptAll:
		return status == models.StatusFailure || status == models.StatusTimeout
	case models.RetryAcceptError:
		return status == models.StatusFailure
	case models.RetryAcceptTimeout:
		return status == models.StatusTimeout
	default:
		return false
	}
}

// CalculateDelay computes the backoff delay before the next attempt.
func (c *Controller) CalculateDelay(policy *models.RetryPolicy, attemptCount int) time.Duration {
	initial := parseDurationOr(policy.InitialDelay, time.Second)
	maxDelay := parseDurationOr(policy.MaxDelay, time.Hour)

	var delay time.Duration
	switch policy.Backoff {
	case models.BackoffExponential:
		factor := math.Pow(2, float64(attemptCount))
		delay = time.Duration(float64(initial) * factor)
	case models.BackoffLinear:
		delay = initial * time.Duration(attemptCount+1)
	default:
		delay = initial
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// BuildMetadata assembles the next retry's trigger_context payload from
// the policy, the prior metadata (nil on the first retry), and the
// execution that just failed.
func BuildMetadata(policy *models.RetryPolicy, prior *Metadata, failedExecID string, startedAt time.Time, status models.ExecutionStatus, errMsg string, delay time.Duration) Metadata {
	attempt := 1
	var history []AttemptRecord
	if prior != nil {
		attempt = prior.AttemptCount + 1
		history = prior.PreviousAttempts
	}
	history = append(history, AttemptRecord{
		ExecutionID: failedExecID,
		StartedAt:   startedAt,
		Status:      string(status),
		Error:       errMsg,
		DelayMS:     delay.Milliseconds(),
	})
	return Metadata{
		AttemptCount:     attempt,
		MaxAttempts:      policy.MaxAttempts,
		Backoff:          policy.Backoff,
		InitialDelay:     policy.InitialDelay,
		MaxDelay:         policy.MaxDelay,
		Accept:           policy.Accept,
		PreviousAttempts: history,
	}
}
