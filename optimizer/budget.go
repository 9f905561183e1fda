package optimizer

import (
	"math"
	"sync"
	"time"

	"github.com/evansantos/slimclaw/config"
)

// BudgetTracker enforces per-tier daily/weekly spend limits against a
// configured enforcement action. All state is in-memory and
// process-wide; Serialize/FromSnapshot are the extension point for a
// persistent backing store.
type BudgetTracker struct {
	mu    sync.Mutex
	cfg   config.BudgetConfig
	state map[string]*BudgetState
}

// NewBudgetTracker constructs a tracker with reset clocks anchored to
// the current time.
func NewBudgetTracker(cfg config.BudgetConfig) *BudgetTracker {
	return &BudgetTracker{
		cfg:   cfg,
		state: make(map[string]*BudgetState),
	}
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func nextMondayMidnightUTC(now time.Time) time.Time {
	u := now.UTC()
	daysUntilMonday := (8 - int(u.Weekday())) % 7
	if daysUntilMonday == 0 {
		daysUntilMonday = 7
	}
	y, m, d := u.Date()
	return time.Date(y, m, d+daysUntilMonday, 0, 0, 0, 0, time.UTC)
}

func (bt *BudgetTracker) tierState(tier string) *BudgetState {
	s, ok := bt.state[tier]
	if !ok {
		now := time.Now()
		s = &BudgetState{
			Daily:  TierBudget{ResetAt: nextUTCMidnight(now)},
			Weekly: TierBudget{ResetAt: nextMondayMidnightUTC(now)},
		}
		bt.state[tier] = s
	}
	return s
}

// maybeReset zeroes a tier's spend counters when their reset clock has
// elapsed. Idempotent: calling it repeatedly within the same window is
// a no-op after the first reset.
func (bt *BudgetTracker) maybeReset(tier string) {
	s := bt.tierState(tier)
	now := time.Now()
	if !now.Before(s.Daily.ResetAt) {
		s.Daily = TierBudget{ResetAt: nextUTCMidnight(now)}
	}
	if !now.Before(s.Weekly.ResetAt) {
		s.Weekly = TierBudget{ResetAt: nextMondayMidnightUTC(now)}
	}
}

// Record adds costUSD to the tier's daily and weekly spend when
// enabled and cost > 0. Unknown tiers (no configured limit) are still
// tracked but never block.
func (bt *BudgetTracker) Record(tier string, costUSD float64) {
	if !bt.cfg.Enabled || costUSD <= 0 {
		return
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.maybeReset(tier)
	s := bt.tierState(tier)
	s.Daily.add(costUSD)
	s.Weekly.add(costUSD)
}

// Check evaluates whether tier is within budget and whether an alert
// threshold has been crossed.
func (bt *BudgetTracker) Check(tier string) BudgetCheck {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.maybeReset(tier)
	s := bt.tierState(tier)

	dailyLimit := limitOrInfinite(bt.cfg.Daily[tier])
	weeklyLimit := limitOrInfinite(bt.cfg.Weekly[tier])

	dailyRemaining := dailyLimit - s.Daily.Spent
	weeklyRemaining := weeklyLimit - s.Weekly.Spent

	dailyOver := dailyRemaining < 0
	weeklyOver := weeklyRemaining < 0

	alertThreshold := bt.cfg.AlertThresholdPercent
	if alertThreshold <= 0 {
		alertThreshold = 80
	}
	alert := percentOver(s.Daily.Spent, dailyLimit, alertThreshold) || percentOver(s.Weekly.Spent, weeklyLimit, alertThreshold)

	allowed := true
	switch bt.cfg.EnforcementAction {
	case "block":
		allowed = !(dailyOver || weeklyOver)
	case "downgrade":
		allowed = !dailyOver
	default: // alert-only
		allowed = true
	}

	return BudgetCheck{
		Allowed:         allowed,
		DailyRemaining:  dailyRemaining,
		WeeklyRemaining: weeklyRemaining,
		AlertTriggered:  alert,
	}
}

func limitOrInfinite(limit float64) float64 {
	if limit == 0 {
		return math.Inf(1)
	}
	return limit
}

func percentOver(spent, limit, thresholdPercent float64) bool {
	if math.IsInf(limit, 1) || limit <= 0 {
		return false
	}
	return (spent/limit)*100 >= thresholdPercent
}

// GetStatus returns a snapshot per tier with cents rounded to 2 decimals.
func (bt *BudgetTracker) GetStatus() map[string]BudgetState {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	out := make(map[string]BudgetState, len(bt.state))
	for tier, s := range bt.state {
		bt.maybeReset(tier)
		out[tier] = BudgetState{
			Daily: TierBudget{
				Spent:   math.Round(s.Daily.Spent*100) / 100,
				ResetAt: s.Daily.ResetAt,
			},
			Weekly: TierBudget{
				Spent:   math.Round(s.Weekly.Spent*100) / 100,
				ResetAt: s.Weekly.ResetAt,
			},
		}
	}
	return out
}

// BudgetSnapshot is the serialized form used by Serialize/FromSnapshot
// as an explicit extension point for persistence.
type BudgetSnapshot struct {
	State map[string]BudgetState
}

// Serialize captures the current state for external persistence.
func (bt *BudgetTracker) Serialize() BudgetSnapshot {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	out := make(map[string]BudgetState, len(bt.state))
	for tier, s := range bt.state {
		out[tier] = *s
	}
	return BudgetSnapshot{State: out}
}

// FromSnapshot restores state from a previously captured snapshot.
func (bt *BudgetTracker) FromSnapshot(snap BudgetSnapshot) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.state = make(map[string]*BudgetState, len(snap.State))
	for tier, s := range snap.State {
		cp := s
		bt.state[tier] = &cp
	}
}
