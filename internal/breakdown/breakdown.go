// Package breakdown splits a campaign's raised total between the platform,
// the payment gateway, partners, collaborators and the creator.
//
// Compute is a pure function over value types: it does no I/O and returns the
// same result for the same input, so it can be re-run to check a stored
// settlement.
package breakdown

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned for negative totals or fees.
var ErrInvalidInput = errors.New("invalid breakdown input")

// Input holds everything needed to compute a breakdown.
type Input struct {
	TotalRaised     money.Amount
	PlatformFeeRate decimal.Decimal
	GatewayFees     money.Amount
	Partners        []types.Share
	Collaborators   []types.Share
}

// Item is one stakeholder's computed share of the net amount.
type Item struct {
	StakeholderID string          `json:"stakeholder_id"`
	Kind          string          `json:"kind"`
	Amount        money.Amount    `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
}

// Breakdown is the itemized split of a raised total.
type Breakdown struct {
	TotalRaised            money.Amount    `json:"total_raised"`
	PlatformFeeRate        decimal.Decimal `json:"platform_fee_rate"`
	PlatformFee            money.Amount    `json:"platform_fee"`
	GatewayFees            money.Amount    `json:"gateway_fees"`
	NetAmount              money.Amount    `json:"net_amount"`
	PartnerShareTotal      money.Amount    `json:"partner_share_total"`
	CollaboratorShareTotal money.Amount    `json:"collaborator_share_total"`
	CreatorShare           money.Amount    `json:"creator_share"`
	CreatorRate            decimal.Decimal `json:"creator_rate"`
	Items                  []Item          `json:"items"`
}

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// Compute splits in.TotalRaised. The platform fee and every stakeholder share
// are rounded half-up independently; the creator receives the remainder so the
// shares always add up to the net amount exactly.
func Compute(in Input) (*Breakdown, error) {
	if in.TotalRaised < 0 {
		return nil, fmt.Errorf("%w: total raised %d is negative", ErrInvalidInput, in.TotalRaised)
	}
	if in.GatewayFees < 0 {
		return nil, fmt.Errorf("%w: gateway fees %d are negative", ErrInvalidInput, in.GatewayFees)
	}
	if !inUnitInterval(in.PlatformFeeRate) {
		return nil, fmt.Errorf("%w: platform fee rate %s outside [0,1]", types.ErrInvalidShareConfiguration, in.PlatformFeeRate)
	}

	rateSum := decimal.Zero
	for _, group := range [][]types.Share{in.Partners, in.Collaborators} {
		for _, share := range group {
			if !inUnitInterval(share.Rate) {
				return nil, fmt.Errorf("%w: rate %s for %s %s outside [0,1]",
					types.ErrInvalidShareConfiguration, share.Rate, share.Kind, share.StakeholderID)
			}
			rateSum = rateSum.Add(share.Rate)
		}
	}
	if rateSum.GreaterThan(one) {
		return nil, fmt.Errorf("%w: share rates sum to %s", types.ErrInvalidShareConfiguration, rateSum)
	}

	platformFee := in.TotalRaised.MulRate(in.PlatformFeeRate)
	fees, err := platformFee.Add(in.GatewayFees)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if fees > in.TotalRaised {
		return nil, fmt.Errorf("%w: platform fee %d + gateway fees %d > total raised %d",
			types.ErrNegativeNetAmount, platformFee, in.GatewayFees, in.TotalRaised)
	}
	net := in.TotalRaised - fees

	b := &Breakdown{
		TotalRaised:     in.TotalRaised,
		PlatformFeeRate: in.PlatformFeeRate,
		PlatformFee:     platformFee,
		GatewayFees:     in.GatewayFees,
		NetAmount:       net,
		CreatorRate:     one.Sub(rateSum),
		Items:           make([]Item, 0, len(in.Partners)+len(in.Collaborators)),
	}

	for _, share := range in.Partners {
		b.Items = append(b.Items, Item{StakeholderID: share.StakeholderID, Kind: types.StakeholderPartner, Amount: net.MulRate(share.Rate), Rate: share.Rate})
	}
	for _, share := range in.Collaborators {
		b.Items = append(b.Items, Item{StakeholderID: share.StakeholderID, Kind: types.StakeholderCollaborator, Amount: net.MulRate(share.Rate), Rate: share.Rate})
	}

	var allocated money.Amount
	for _, item := range b.Items {
		allocated += item.Amount
	}
	// Shares round independently, so when the rates sum to (nearly) 1 the
	// rounded shares can exceed net by a few minor units. Take them back from
	// the shares that were rounded up the most.
	if overshoot := allocated - net; overshoot > 0 {
		trimOvershoot(b.Items, net, overshoot)
	}

	for _, item := range b.Items {
		switch item.Kind {
		case types.StakeholderPartner:
			b.PartnerShareTotal += item.Amount
		case types.StakeholderCollaborator:
			b.CollaboratorShareTotal += item.Amount
		}
	}
	b.CreatorShare = net - b.PartnerShareTotal - b.CollaboratorShareTotal

	return b, nil
}

// Verify reports whether the shares add up to the net amount and the net
// amount reconciles with the total and fees.
func (b *Breakdown) Verify() bool {
	return b.CreatorShare+b.PartnerShareTotal+b.CollaboratorShareTotal == b.NetAmount &&
		b.TotalRaised-b.PlatformFee-b.GatewayFees == b.NetAmount
}

// trimOvershoot removes one minor unit from each of the overshoot items with
// the largest upward rounding. Every rounded-up item gained at most half a
// unit, so there are always enough of them.
func trimOvershoot(items []Item, net, overshoot money.Amount) {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	roundedUpBy := func(i int) decimal.Decimal {
		return items[i].Amount.Decimal().Sub(net.Decimal().Mul(items[i].Rate))
	}
	sort.SliceStable(order, func(a, b int) bool {
		return roundedUpBy(order[a]).GreaterThan(roundedUpBy(order[b]))
	})
	for _, i := range order {
		if overshoot == 0 {
			return
		}
		items[i].Amount--
		overshoot--
	}
}

func inUnitInterval(rate decimal.Decimal) bool {
	return !rate.LessThan(zero) && !rate.GreaterThan(one)
}
