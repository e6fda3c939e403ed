package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "seriesdb"

var (
	// StartupTime stores how long the startup took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// DiskUsage stores the bytes actually allocated on disk by each database directory
	DiskUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_usage_bytes",
		Help:      "Disk usage of the database directory in bytes",
	}, []string{"database"})

	// InitSyncState stores the numeric state of the initial sync session of each database
	InitSyncState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_state",
		Help:      "State of the initial sync session (0=unstarted 1=opening 2=running 3=waiting 4=completed 5=failed 6=stopped)",
	}, []string{"database"})

	// InitSyncCursor stores the next series id the initial sync expects from the peer
	InitSyncCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_cursor",
		Help:      "Next series id expected by the initial sync session",
	}, []string{"database"})

	// InitSyncPeerHighest stores the highest series id the peer has reported
	InitSyncPeerHighest = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_peer_highest_series_id",
		Help:      "Highest series id reported by the initial sync peer",
	}, []string{"database"})

	// InitSyncAppliedTotal stores the number of series definitions applied to the local catalog
	InitSyncAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_applied_series_total",
		Help:      "Number of series definitions applied by the initial sync partitioned by result",
	}, []string{"database", "result"})

	// InitSyncExchangeDuration stores the round trip time of every exchange with the peer
	InitSyncExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_exchange_duration_seconds",
		Help:      "Round trip time of initial sync exchanges",
	}, []string{"database"})

	// InitSyncExchangeFailuresTotal stores the number of exchanges that failed partitioned by kind
	InitSyncExchangeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_exchange_failures_total",
		Help:      "Number of failed initial sync exchanges partitioned by kind (transient, protocol, durability)",
	}, []string{"database", "kind"})

	// InitSyncBackPressureTotal stores the number of ticks skipped because an exchange was still outstanding
	InitSyncBackPressureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_backpressure_ticks_total",
		Help:      "Number of scheduler ticks skipped while waiting on the peer",
	}, []string{"database"})

	// InitSyncServedTotal stores the number of catalog batches this node served to syncing peers
	InitSyncServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initsync_served_batches_total",
		Help:      "Number of catalog batches served to peers performing an initial sync",
	}, []string{"database"})
)
