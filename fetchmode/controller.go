// Package fetchmode decides how much road detail to request per tile while a
// search is running. The controller is deliberately hysteretic: raw search
// metrics are noisy, and switching detail levels on every reading would
// thrash the fetch pipeline with full tile re-fetches.
package fetchmode

import (
	"sync"
	"time"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// Metrics is one evaluation tick's view of search progress.
type Metrics struct {
	DistanceToGoalM float64
	StallCount      int
	ProgressPct     float64
	TilesLoaded     int
	OpenSetSize     int
	// AtGateway is set when start or goal sits at the edge of a region only
	// materialized at low detail, justifying an earlier upgrade.
	AtGateway bool
}

// Config tunes the transition policy.
type Config struct {
	// MinDwell blocks re-evaluation entirely after any transition.
	MinDwell time.Duration
	// DowngradeCooldown is added on top of MinDwell before the controller
	// may leave Detailed.
	DowngradeCooldown time.Duration
	// ConfirmTicks is how many consecutive ticks a trigger must hold.
	ConfirmTicks int

	NearDistanceM float64
	MidDistanceM  float64
	StallUpgrade  int

	// Strong-evidence thresholds for downgrading out of Detailed.
	DowngradeOpenSet     int
	DowngradeDistanceM   float64
	DowngradeProgressPct float64
}

// DefaultConfig matches the tuning used by the production planner.
func DefaultConfig() Config {
	return Config{
		MinDwell:             2 * time.Second,
		DowngradeCooldown:    8 * time.Second,
		ConfirmTicks:         3,
		NearDistanceM:        3000,
		MidDistanceM:         15000,
		StallUpgrade:         50,
		DowngradeOpenSet:     5000,
		DowngradeDistanceM:   30000,
		DowngradeProgressPct: 10,
	}
}

// Controller is a hysteretic state machine over Backbone/Express/Detailed.
type Controller struct {
	mu   sync.Mutex
	cfg  Config
	mode graph.DetailLevel

	lastTransition time.Time
	frozenUntil    time.Time

	pendingTarget graph.DetailLevel
	pendingTicks  int

	now func() time.Time
}

// New starts the controller at the given mode.
func New(initial graph.DetailLevel, cfg Config) *Controller {
	return &Controller{
		cfg:  cfg,
		mode: initial,
		now:  time.Now,
	}
}

// Mode returns the current fetch detail level.
func (c *Controller) Mode() graph.DetailLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Freeze suspends all transitions for d, used during search warmup right
// after corridor preload while the metrics are still meaningless.
func (c *Controller) Freeze(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.now().Add(d)
	if until.After(c.frozenUntil) {
		c.frozenUntil = until
	}
	c.pendingTicks = 0
}

// Evaluate feeds one tick of metrics in and returns the (possibly new) mode
// plus whether a transition happened on this tick.
func (c *Controller) Evaluate(m Metrics) (graph.DetailLevel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.frozenUntil) {
		c.pendingTicks = 0
		return c.mode, false
	}
	if now.Sub(c.lastTransition) < c.cfg.MinDwell && !c.lastTransition.IsZero() {
		return c.mode, false
	}

	desired := c.desired(m)
	if desired == c.mode {
		c.pendingTicks = 0
		return c.mode, false
	}

	if desired < c.mode && c.mode == graph.Detailed {
		// Leaving Detailed risks dropping already-discovered fine-grained
		// paths; demand a long cooldown and strong evidence.
		if now.Sub(c.lastTransition) < c.cfg.MinDwell+c.cfg.DowngradeCooldown {
			c.pendingTicks = 0
			return c.mode, false
		}
		if !c.strongDowngradeEvidence(m) {
			c.pendingTicks = 0
			return c.mode, false
		}
	}

	// Debounce: the same target must hold for ConfirmTicks consecutive ticks.
	if c.pendingTarget != desired {
		c.pendingTarget = desired
		c.pendingTicks = 0
	}
	c.pendingTicks++
	if c.pendingTicks < c.cfg.ConfirmTicks {
		return c.mode, false
	}

	c.mode = desired
	c.lastTransition = now
	c.pendingTicks = 0
	return c.mode, true
}

func (c *Controller) desired(m Metrics) graph.DetailLevel {
	if m.AtGateway || m.DistanceToGoalM < c.cfg.NearDistanceM {
		return graph.Detailed
	}
	if m.DistanceToGoalM < c.cfg.MidDistanceM || m.StallCount >= c.cfg.StallUpgrade {
		return graph.Express
	}
	return graph.Backbone
}

func (c *Controller) strongDowngradeEvidence(m Metrics) bool {
	return m.OpenSetSize >= c.cfg.DowngradeOpenSet &&
		m.DistanceToGoalM >= c.cfg.DowngradeDistanceM &&
		m.ProgressPct <= c.cfg.DowngradeProgressPct
}
