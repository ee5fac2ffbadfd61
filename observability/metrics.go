package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	supplyMetricsOnce sync.Once
	supplyRegistry    *SupplyMetrics

	miningMetricsOnce sync.Once
	miningRegistry    *MiningMetrics

	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics
)

// SupplyMetrics exposes the supply ledger counters.
type SupplyMetrics struct {
	mints       prometheus.Counter
	burns       prometheus.Counter
	capRejects  prometheus.Counter
	circulating prometheus.Gauge
}

// Supply returns the lazily-initialised supply metrics registry.
func Supply() *SupplyMetrics {
	supplyMetricsOnce.Do(func() {
		supplyRegistry = &SupplyMetrics{
			mints: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "supply",
				Name:      "mints_total",
				Help:      "Total successful mint operations against the supply ledger.",
			}),
			burns: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "supply",
				Name:      "burns_total",
				Help:      "Total successful burn operations against the supply ledger.",
			}),
			capRejects: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "supply",
				Name:      "cap_rejections_total",
				Help:      "Count of mint attempts rejected by the supply cap.",
			}),
			circulating: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rigchain",
				Subsystem: "supply",
				Name:      "circulating_units",
				Help:      "Circulating supply in token base units.",
			}),
		}
		prometheus.MustRegister(
			supplyRegistry.mints,
			supplyRegistry.burns,
			supplyRegistry.capRejects,
			supplyRegistry.circulating,
		)
	})
	return supplyRegistry
}

func (m *SupplyMetrics) IncMint() {
	if m == nil {
		return
	}
	m.mints.Inc()
}

func (m *SupplyMetrics) IncBurn() {
	if m == nil {
		return
	}
	m.burns.Inc()
}

func (m *SupplyMetrics) IncCapRejection() {
	if m == nil {
		return
	}
	m.capRejects.Inc()
}

func (m *SupplyMetrics) SetCirculating(units float64) {
	if m == nil {
		return
	}
	m.circulating.Set(units)
}

// MiningMetrics tracks reward engine activity.
type MiningMetrics struct {
	settlements *prometheus.CounterVec
	claims      *prometheus.CounterVec
	minted      prometheus.Counter
}

// Mining returns the lazily-initialised mining metrics registry.
func Mining() *MiningMetrics {
	miningMetricsOnce.Do(func() {
		miningRegistry = &MiningMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "mining",
				Name:      "settlements_total",
				Help:      "Total reward settlements segmented by outcome.",
			}, []string{"outcome"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "mining",
				Name:      "claims_total",
				Help:      "Total reward claims segmented by outcome.",
			}, []string{"outcome"}),
			minted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "mining",
				Name:      "minted_units_total",
				Help:      "Total token base units minted through claims.",
			}),
		}
		prometheus.MustRegister(miningRegistry.settlements, miningRegistry.claims, miningRegistry.minted)
	})
	return miningRegistry
}

func (m *MiningMetrics) IncSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *MiningMetrics) IncClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
}

func (m *MiningMetrics) AddMinted(units float64) {
	if m == nil {
		return
	}
	m.minted.Add(units)
}

// SaleMetrics tracks purchase flow activity.
type SaleMetrics struct {
	purchases       prometheus.Counter
	referralPayouts prometheus.Counter
	burnedUnits     prometheus.Counter
}

// Sale returns the lazily-initialised sale metrics registry.
func Sale() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			purchases: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "sale",
				Name:      "purchases_total",
				Help:      "Total completed purchases.",
			}),
			referralPayouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "sale",
				Name:      "referral_payouts_total",
				Help:      "Total referral payouts made across all levels.",
			}),
			burnedUnits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rigchain",
				Subsystem: "sale",
				Name:      "burned_units_total",
				Help:      "Total token base units burned by the purchase flow.",
			}),
		}
		prometheus.MustRegister(saleRegistry.purchases, saleRegistry.referralPayouts, saleRegistry.burnedUnits)
	})
	return saleRegistry
}

func (m *SaleMetrics) IncPurchase() {
	if m == nil {
		return
	}
	m.purchases.Inc()
}

func (m *SaleMetrics) IncReferralPayout() {
	if m == nil {
		return
	}
	m.referralPayouts.Inc()
}

func (m *SaleMetrics) AddBurned(units float64) {
	if m == nil {
		return
	}
	m.burnedUnits.Add(units)
}
