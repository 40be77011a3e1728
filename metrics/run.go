package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics summarizes the outcome of a remediation or audit run.
type RunMetrics struct {
	accounts  *prometheus.GaugeVec
	completed *prometheus.GaugeVec
}

// NewDefaultRunMetrics creates the run summary instrumentation.
func NewDefaultRunMetrics() *RunMetrics {
	return &RunMetrics{
		accounts: registerOnce(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accounts",
				Help:      "Number of accounts per category found by the last run (remediated, ledger_inconsistent, lock_mismatch, unexpected, unflagged).",
			},
			[]string{"category"},
		)),
		completed: registerOnce(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_completed_timestamp_seconds",
				Help:      "Unix time of the last successful run, partitioned by command.",
			},
			[]string{"command"},
		)),
	}
}

// Accounts sets the number of accounts found in a category.
func (m *RunMetrics) Accounts(category string, n int) {
	m.accounts.WithLabelValues(category).Set(float64(n))
}

// Completed marks a successful run of the command.
func (m *RunMetrics) Completed(command string) {
	m.completed.WithLabelValues(command).SetToCurrentTime()
}
