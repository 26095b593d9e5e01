package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gopperplr_snapshot_writes_total",
		Help: "Total number of power-loss snapshots persisted",
	})

	snapshotWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gopperplr_snapshot_write_failures_total",
		Help: "Total number of power-loss snapshot writes that failed",
	})

	snapshotLastWriteSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gopperplr_snapshot_last_write_success",
		Help: "Whether the last snapshot write succeeded (1) or failed (0)",
	})

	recordPurges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gopperplr_record_purges_total",
		Help: "Total number of recovery record purges by reason",
	}, []string{"reason"}) // reason=invalid|disabled|complete|manual

	resumesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gopperplr_resumes_total",
		Help: "Resume attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|canceled

	powerLossEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gopperplr_power_loss_events_total",
		Help: "Total number of power-loss signals handled",
	})
)
