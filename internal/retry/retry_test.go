package retry_test

import (
	"testing"
	"time"

	. "cronpilot/internal/retry"

	"cronpilot/internal/models"
)

func TestController_ShouldRetry_RespectsMaxAttempts(t *testing.T) {
	c := NewController()
	policy := &models.RetryPolicy{MaxAttempts: 3, Accept: models.RetryAcceptAll}

	if !c.ShouldRetry(policy, 2, models.StatusFailure) {
		t.Error("expected retry allowed at attempt 2 of 3")
	}
	if c.ShouldRetry(policy, 3, models.StatusFailure) {
		t.Error("expected retry denied once attempt count reaches max_attempts")
	}
}

func TestController_ShouldRetry_NilPolicyNeverRetries(t *testing.T) {
	c := NewController()
	if c.ShouldRetry(nil, 0, models.StatusFailure) {
		t.Error("a nil retry policy must never permit a retry")
	}
}

func TestController_ShouldRetry_AcceptSetFiltersStatus(t *testing.T) {
	c := NewController()

	errOnly := &models.RetryPolicy{MaxAttempts: 5, Accept: models.RetryAcceptError}
	if !c.ShouldRetry(errOnly, 0, models.StatusFailure) {
		t.Error("accept=error should retry a failure")
	}
	if c.ShouldRetry(errOnly, 0, models.StatusTimeout) {
		t.Error("accept=error should not retry a timeout")
	}

	timeoutOnly := &models.RetryPolicy{MaxAttempts: 5, Accept: models.RetryAcceptTimeout}
	if !c.ShouldRetry(timeoutOnly, 0, models.StatusTimeout) {
		t.Error("accept=timeout should retry a timeout")
	}
	if c.ShouldRetry(timeoutOnly, 0, models.StatusFailure) {
		t.Error("accept=timeout should not retry a failure")
	}
}

func TestController_CalculateDelay_ExponentialDoublesPerAttempt(t *testing.T) {
	c := NewController()
	policy := &models.RetryPolicy{
		Backoff:      models.BackoffExponential,
		InitialDelay: "1s",
		MaxDelay:     "1h",
	}

	d0 := c.CalculateDelay(policy, 0)
	d1 := c.CalculateDelay(policy, 1)
	d2 := c.CalculateDelay(policy, 2)

	if d0 != time.Second {
		t.Errorf("expected first delay to equal initial_delay, got %v", d0)
	}
	if d1 != 2*time.Second {
		t.Errorf("expected second delay to double, got %v", d1)
	}
	if d2 != 4*time.Second {
		t.Errorf("expected third delay to quadruple, got %v", d2)
	}
}

func TestController_CalculateDelay_LinearGrowsByFixedStep(t *testing.T) {
	c := NewController()
	policy := &models.RetryPolicy{
		Backoff:      models.BackoffLinear,
		InitialDelay: "2s",
		MaxDelay:     "1h",
	}

	if got := c.CalculateDelay(policy, 0); got != 2*time.Second {
		t.Errorf("expected linear attempt 0 to equal initial_delay, got %v", got)
	}
	if got := c.CalculateDelay(policy, 2); got != 6*time.Second {
		t.Errorf("expected linear attempt 2 to be 3x initial_delay, got %v", got)
	}
}

func TestController_CalculateDelay_CapsAtMaxDelay(t *testing.T) {
	c := NewController()
	policy := &models.RetryPolicy{
		Backoff:      models.BackoffExponential,
		InitialDelay: "1s",
		MaxDelay:     "5s",
	}
	if got := c.CalculateDelay(policy, 10); got != 5*time.Second {
		t.Errorf("expected delay to cap at max_delay, got %v", got)
	}
}

func TestBuildMetadata_AccumulatesAttemptHistory(t *testing.T) {
	policy := &models.RetryPolicy{MaxAttempts: 3, Backoff: models.BackoffLinear, InitialDelay: "1s", MaxDelay: "1m", Accept: models.RetryAcceptAll}

	first := BuildMetadata(policy, nil, "exec-1", time.Now(), models.StatusFailure, "boom", time.Second)
	if first.AttemptCount != 1 || len(first.PreviousAttempts) != 1 {
		t.Fatalf("expected first retry to be attempt 1 with one history entry, got %+v", first)
	}

	second := BuildMetadata(policy, &first, "exec-2", time.Now(), models.StatusTimeout, "", 2*time.Second)
	if second.AttemptCount != 2 || len(second.PreviousAttempts) != 2 {
		t.Fatalf("expected second retry to carry forward prior history, got %+v", second)
	}
}
