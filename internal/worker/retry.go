package worker

import "time"

// RetryPolicy is the backoff schedule for mirroring lists to Google Sheets.
// Sheets rejects writes with 429 once the per-minute quota is spent, so the
// delay is capped at a minute unless configured otherwise.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy mirrors the defaults of the worker config section.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
}

// withDefaults fills unset fields from DefaultRetryPolicy.
func (r RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if r.MaxRetries <= 0 {
		r.MaxRetries = def.MaxRetries
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = def.InitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = def.BackoffFactor
	}
	return r
}

// NextDelay is the wait after failed attempt n (1-based):
// InitialDelay * BackoffFactor^(n-1), never above MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	r = r.withDefaults()
	delay := float64(r.InitialDelay)
	for n := 1; n < attempt && delay < float64(r.MaxDelay); n++ {
		delay *= r.BackoffFactor
	}
	return min(time.Duration(delay), r.MaxDelay)
}
