// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"
	"math/big"

	"github.com/luxfi/metric"
)

const pathLabel = "path"

var (
	_ Metrics = (*metricsImpl)(nil)

	redemptionLabels = []string{pathLabel}
)

type Metrics interface {
	metric.APIInterceptor

	IncMints()
	// MarkRedemption records a redemption on the given settlement
	// path ("buffer" or "custodian").
	MarkRedemption(servedFromBuffer bool)
	IncYieldDistributions()
	IncRebalances()
	IncCooldownsStarted()
	IncCooldownsClaimed()
	IncFastExits()

	SetTotalIssued(*big.Int)
	SetReserveUnderCustody(*big.Int)
	SetBufferBalance(*big.Int)
	SetTotalShares(*big.Int)
}

type metricsImpl struct {
	numMints, numYields, numRebalances        metric.Counter
	numCooldowns, numClaims, numFastExits     metric.Counter
	numRedemptions                            metric.CounterVec
	totalIssued, custody, buffer, totalShares metric.Gauge

	metric.APIInterceptor
}

func New(registerer metric.Registerer) (Metrics, error) {
	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	m := &metricsImpl{}
	m.numMints = metric.NewCounter(metric.CounterOpts{
		Name: "mints",
		Help: "Number of successful mint operations",
	})
	m.numRedemptions = metric.NewCounterVec(
		metric.CounterOpts{
			Name: "redemptions",
			Help: "Number of successful redemptions by settlement path",
		},
		redemptionLabels,
	)
	m.numYields = metric.NewCounter(metric.CounterOpts{
		Name: "yield_distributions",
		Help: "Number of successful yield distributions",
	})
	m.numRebalances = metric.NewCounter(metric.CounterOpts{
		Name: "rebalances",
		Help: "Number of buffer rebalance operations",
	})
	m.numCooldowns = metric.NewCounter(metric.CounterOpts{
		Name: "cooldowns_started",
		Help: "Number of vault cooldowns initiated",
	})
	m.numClaims = metric.NewCounter(metric.CounterOpts{
		Name: "cooldowns_claimed",
		Help: "Number of matured cooldowns claimed",
	})
	m.numFastExits = metric.NewCounter(metric.CounterOpts{
		Name: "fast_exits",
		Help: "Number of fee-bearing fast exits",
	})
	m.totalIssued = metric.NewGauge(metric.GaugeOpts{
		Name: "total_issued",
		Help: "Circulating issued-token supply",
	})
	m.custody = metric.NewGauge(metric.GaugeOpts{
		Name: "reserve_under_custody",
		Help: "Reserve attributed to the system",
	})
	m.buffer = metric.NewGauge(metric.GaugeOpts{
		Name: "buffer_balance",
		Help: "Reserve held by the liquidity buffer",
	})
	m.totalShares = metric.NewGauge(metric.GaugeOpts{
		Name: "vault_total_shares",
		Help: "Total staking vault share supply",
	})

	apiRequestMetric, err := metric.NewAPIInterceptor(registry)
	m.APIInterceptor = apiRequestMetric
	return m, err
}

func (m *metricsImpl) IncMints() { m.numMints.Inc() }

func (m *metricsImpl) MarkRedemption(servedFromBuffer bool) {
	path := "custodian"
	if servedFromBuffer {
		path = "buffer"
	}
	m.numRedemptions.With(metric.Labels{pathLabel: path}).Inc()
}

func (m *metricsImpl) IncYieldDistributions() { m.numYields.Inc() }
func (m *metricsImpl) IncRebalances()         { m.numRebalances.Inc() }
func (m *metricsImpl) IncCooldownsStarted()   { m.numCooldowns.Inc() }
func (m *metricsImpl) IncCooldownsClaimed()   { m.numClaims.Inc() }
func (m *metricsImpl) IncFastExits()          { m.numFastExits.Inc() }

func (m *metricsImpl) SetTotalIssued(v *big.Int)         { m.totalIssued.Set(bigToFloat(v)) }
func (m *metricsImpl) SetReserveUnderCustody(v *big.Int) { m.custody.Set(bigToFloat(v)) }
func (m *metricsImpl) SetBufferBalance(v *big.Int)       { m.buffer.Set(bigToFloat(v)) }
func (m *metricsImpl) SetTotalShares(v *big.Int)         { m.totalShares.Set(bigToFloat(v)) }

// bigToFloat is lossy above 2^53 units, which is acceptable for
// gauges: exact values live in the ledger, the gauge is a trend line.
func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
