// Package gateway simulates the payment rails payouts are disbursed over.
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ksred/klear-funding/internal/settlement"
	"github.com/rs/zerolog/log"
)

// ErrDeclined is returned when a rail refuses a transfer.
var ErrDeclined = fmt.Errorf("gateway: %w", settlement.ErrPayoutDeclined)

// Rail represents a mock payout rail
type Rail struct {
	ID          string
	Name        string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability the transfer is accepted
	Weight      float64 // relative share of traffic routed to the rail
}

var defaultRails = []Rail{
	{ID: "ACH", Name: "Bank Transfer", MinLatency: 20, MaxLatency: 80, SuccessRate: 0.97, Weight: 0.6},
	{ID: "CARD", Name: "Card Push", MinLatency: 5, MaxLatency: 30, SuccessRate: 0.93, Weight: 0.3},
	{ID: "WALLET", Name: "Wallet Credit", MinLatency: 1, MaxLatency: 10, SuccessRate: 0.99, Weight: 0.1},
}

// Simulator implements settlement.PayoutGateway with random latency and
// declines.
type Simulator struct {
	rails       []Rail
	successRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulator creates a simulator whose overall acceptance is scaled by
// successRate.
func NewSimulator(successRate float64, seed int64) *Simulator {
	return NewSimulatorWithRails(defaultRails, successRate, seed)
}

func NewSimulatorWithRails(rails []Rail, successRate float64, seed int64) *Simulator {
	return &Simulator{
		rails:       rails,
		successRate: successRate,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

// Disburse picks a rail, waits out its latency and either returns a gateway
// reference or a decline. Zero-amount payouts are accepted without a transfer.
func (s *Simulator) Disburse(ctx context.Context, payout *settlement.Payout) (string, error) {
	logger := log.With().
		Str("payout_id", payout.PayoutID).
		Str("stakeholder_kind", payout.StakeholderKind).
		Int64("amount", payout.Amount.Int64()).
		Logger()

	if payout.Amount == 0 {
		logger.Debug().Msg("zero amount payout, nothing to transfer")
		return "NOOP-" + payout.PayoutID, nil
	}

	rail, latency, roll, reference := s.draw()
	logger = logger.With().Str("rail", rail.ID).Logger()
	logger.Debug().Int("latency_ms", latency).Msg("simulated rail latency")

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Duration(latency) * time.Millisecond):
	}

	if roll > rail.SuccessRate*s.successRate {
		logger.Warn().
			Float64("success_rate", rail.SuccessRate*s.successRate).
			Msg("payout declined by rail")
		return reference, fmt.Errorf("%w: rail %s", ErrDeclined, rail.ID)
	}

	logger.Info().Str("gateway_reference", reference).Msg("payout disbursed")
	return reference, nil
}

// draw makes every random choice for one disbursement under the lock.
func (s *Simulator) draw() (Rail, int, float64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rail := s.pickRail()
	latency := rail.MinLatency
	if rail.MaxLatency > rail.MinLatency {
		latency += s.rnd.Intn(rail.MaxLatency - rail.MinLatency + 1)
	}
	reference := fmt.Sprintf("%s-%d", rail.ID, s.rnd.Int63())
	return rail, latency, s.rnd.Float64(), reference
}

func (s *Simulator) pickRail() Rail {
	totalWeight := 0.0
	for _, r := range s.rails {
		totalWeight += r.Weight
	}

	choice := s.rnd.Float64() * totalWeight
	current := 0.0
	for _, r := range s.rails {
		current += r.Weight
		if current >= choice {
			return r
		}
	}
	return s.rails[0]
}
