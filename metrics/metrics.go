// Package metrics records payment counters and latencies.
package metrics

import "time"

// Metric names recorded by the pay-per-call client.
const (
	PaymentAttempt = "payment_attempt"
	PaymentSuccess = "payment_success"
	PaymentFailure = "payment_failure"
	PayPerCall     = "pay_per_call"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
