package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// IncentiveMetrics gathers the operational signals of the incentive modules.
// All observe methods are nil-safe so instrumented paths never need guards.
type IncentiveMetrics struct {
	stakeOps         *prometheus.CounterVec
	batchOps         *prometheus.CounterVec
	gameCommits      prometheus.Counter
	gameReveals      prometheus.Counter
	gameClaims       prometheus.Counter
	priceAdjustments prometheus.Counter
	pricePushErrors  prometheus.Counter
	pot              prometheus.Gauge
	price            prometheus.Gauge
	validChunks      prometheus.Gauge
	round            prometheus.Gauge
}

var (
	incentivesOnce sync.Once
	incentivesReg  *IncentiveMetrics
)

// Incentives returns the process-wide metrics registry, creating and
// registering the collectors on first use.
func Incentives() *IncentiveMetrics {
	incentivesOnce.Do(func() {
		incentivesReg = &IncentiveMetrics{
			stakeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stake_operations_total",
				Help: "Count of stake registry operations by kind.",
			}, []string{"op"}),
			batchOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "postage_batch_operations_total",
				Help: "Count of postage ledger operations by kind.",
			}, []string{"op"}),
			gameCommits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "game_commits_total",
				Help: "Count of accepted redistribution game commits.",
			}),
			gameReveals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "game_reveals_total",
				Help: "Count of accepted redistribution game reveals.",
			}),
			gameClaims: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "game_claims_total",
				Help: "Count of successful redistribution game claims.",
			}),
			priceAdjustments: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "oracle_price_adjustments_total",
				Help: "Count of oracle price adjustments applied.",
			}),
			pricePushErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "oracle_price_push_failures_total",
				Help: "Count of failed price pushes into the postage ledger.",
			}),
			pot: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "postage_pot",
				Help: "Accumulated payout value in the postage pot.",
			}),
			price: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "oracle_price",
				Help: "Current per-chunk-per-block storage price.",
			}),
			validChunks: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "postage_valid_chunks",
				Help: "Number of currently funded address-range units.",
			}),
			round: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "game_round",
				Help: "Current redistribution round index.",
			}),
		}
		prometheus.MustRegister(
			incentivesReg.stakeOps,
			incentivesReg.batchOps,
			incentivesReg.gameCommits,
			incentivesReg.gameReveals,
			incentivesReg.gameClaims,
			incentivesReg.priceAdjustments,
			incentivesReg.pricePushErrors,
			incentivesReg.pot,
			incentivesReg.price,
			incentivesReg.validChunks,
			incentivesReg.round,
		)
	})
	return incentivesReg
}

// ObserveStakeOp counts a stake registry operation by kind.
func (m *IncentiveMetrics) ObserveStakeOp(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.stakeOps.WithLabelValues(op).Inc()
}

// ObserveBatchOp counts a postage ledger operation by kind.
func (m *IncentiveMetrics) ObserveBatchOp(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.batchOps.WithLabelValues(op).Inc()
}

// ObserveCommit counts an accepted game commit.
func (m *IncentiveMetrics) ObserveCommit() {
	if m == nil {
		return
	}
	m.gameCommits.Inc()
}

// ObserveReveal counts an accepted game reveal.
func (m *IncentiveMetrics) ObserveReveal() {
	if m == nil {
		return
	}
	m.gameReveals.Inc()
}

// ObserveClaim counts a successful game claim.
func (m *IncentiveMetrics) ObserveClaim() {
	if m == nil {
		return
	}
	m.gameClaims.Inc()
}

// ObservePriceAdjustment counts an applied oracle adjustment.
func (m *IncentiveMetrics) ObservePriceAdjustment() {
	if m == nil {
		return
	}
	m.priceAdjustments.Inc()
}

// ObservePricePushFailure counts a failed downstream price push.
func (m *IncentiveMetrics) ObservePricePushFailure() {
	if m == nil {
		return
	}
	m.pricePushErrors.Inc()
}

// SetPot records the current pot value.
func (m *IncentiveMetrics) SetPot(v float64) {
	if m == nil {
		return
	}
	m.pot.Set(v)
}

// SetPrice records the current storage price.
func (m *IncentiveMetrics) SetPrice(v float64) {
	if m == nil {
		return
	}
	m.price.Set(v)
}

// SetValidChunks records the funded chunk count.
func (m *IncentiveMetrics) SetValidChunks(v float64) {
	if m == nil {
		return
	}
	m.validChunks.Set(v)
}

// SetRound records the current game round.
func (m *IncentiveMetrics) SetRound(v float64) {
	if m == nil {
		return
	}
	m.round.Set(v)
}
