// Package wealth classifies a balance into a wealth tier.
//
// Tiers are computed on every read and never stored, so the threshold table
// can change without touching persisted data.
package wealth

import (
	"errors"
	"sort"
)

// Tier is one row of the threshold table. MarketplaceFeeBps is the seller fee
// charged on marketplace sales for accounts in this tier.
type Tier struct {
	Level             int    `mapstructure:"level" json:"level"`
	MinCredits        int64  `mapstructure:"min_credits" json:"min_credits"`
	Name              string `mapstructure:"name" json:"name"`
	Color             string `mapstructure:"color" json:"color"`
	Icon              string `mapstructure:"icon" json:"icon"`
	MarketplaceFeeBps int64  `mapstructure:"marketplace_fee_bps" json:"marketplace_fee_bps"`
}

// TierInfo is the read view returned to clients.
type TierInfo struct {
	Tier            Tier    `json:"tier"`
	Balance         int64   `json:"balance"`
	CreditsToNext   *int64  `json:"credits_to_next_tier"`
	ProgressPercent float64 `json:"progress_percent"`
	NextTier        *Tier   `json:"next_tier,omitempty"`
}

var DefaultTiers = []Tier{
	{Level: 0, MinCredits: 0, Name: "Broke", Color: "#6b7280", Icon: "coin-empty", MarketplaceFeeBps: 1000},
	{Level: 1, MinCredits: 100, Name: "Bronze", Color: "#b45309", Icon: "coin-bronze", MarketplaceFeeBps: 1000},
	{Level: 2, MinCredits: 500, Name: "Silver", Color: "#9ca3af", Icon: "coin-silver", MarketplaceFeeBps: 800},
	{Level: 3, MinCredits: 2000, Name: "Gold", Color: "#f59e0b", Icon: "coin-gold", MarketplaceFeeBps: 700},
	{Level: 4, MinCredits: 10000, Name: "Platinum", Color: "#e5e7eb", Icon: "gem-platinum", MarketplaceFeeBps: 600},
	{Level: 5, MinCredits: 50000, Name: "Diamond", Color: "#60a5fa", Icon: "gem-diamond", MarketplaceFeeBps: 500},
	{Level: 6, MinCredits: 250000, Name: "Obsidian", Color: "#111827", Icon: "crown", MarketplaceFeeBps: 400},
}

var (
	ErrEmptyTable    = errors.New("wealth tier table is empty")
	ErrFirstTierMin  = errors.New("first wealth tier must start at 0 credits")
	ErrTierThreshold = errors.New("wealth tier thresholds must be strictly ascending")
)

type Calculator struct {
	tiers []Tier
}

// NewCalculator validates and sorts the table. The lowest tier must start at
// zero so every non-negative balance has a tier.
func NewCalculator(tiers []Tier) (*Calculator, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyTable
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinCredits < sorted[j].MinCredits })

	if sorted[0].MinCredits != 0 {
		return nil, ErrFirstTierMin
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MinCredits == sorted[i-1].MinCredits {
			return nil, ErrTierThreshold
		}
	}
	return &Calculator{tiers: sorted}, nil
}

// MustDefault returns a calculator over DefaultTiers.
func MustDefault() *Calculator {
	c, err := NewCalculator(DefaultTiers)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Calculator) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

func (c *Calculator) index(balance int64) int {
	// first tier whose threshold is above balance, minus one
	i := sort.Search(len(c.tiers), func(i int) bool { return c.tiers[i].MinCredits > balance })
	if i == 0 {
		return 0
	}
	return i - 1
}

// TierFor returns the full tier row for balance.
func (c *Calculator) TierFor(balance int64) Tier {
	return c.tiers[c.index(balance)]
}

// CalculateWealthTier returns the tier level for balance.
func (c *Calculator) CalculateWealthTier(balance int64) int {
	return c.TierFor(balance).Level
}

// CreditsToNextTier returns the gap to the next threshold; ok is false at the
// top tier.
func (c *Calculator) CreditsToNextTier(balance int64) (gap int64, ok bool) {
	i := c.index(balance)
	if i == len(c.tiers)-1 {
		return 0, false
	}
	return c.tiers[i+1].MinCredits - balance, true
}

// WealthTierProgress returns the percent progress within the current tier's
// [min, nextMin) band; the top tier always reports 100.
func (c *Calculator) WealthTierProgress(balance int64) float64 {
	i := c.index(balance)
	if i == len(c.tiers)-1 {
		return 100
	}
	lo, hi := c.tiers[i].MinCredits, c.tiers[i+1].MinCredits
	if balance <= lo {
		return 0
	}
	return float64(balance-lo) / float64(hi-lo) * 100
}

func (c *Calculator) Describe(balance int64) TierInfo {
	i := c.index(balance)
	info := TierInfo{
		Tier:            c.tiers[i],
		Balance:         balance,
		ProgressPercent: c.WealthTierProgress(balance),
	}
	if gap, ok := c.CreditsToNextTier(balance); ok {
		next := c.tiers[i+1]
		info.CreditsToNext = &gap
		info.NextTier = &next
	}
	return info
}

// MarketplaceFee is the seller fee for a sale at price by an account holding
// balance, rounded down.
func (c *Calculator) MarketplaceFee(balance, price int64) int64 {
	return price * c.TierFor(balance).MarketplaceFeeBps / 10000
}
