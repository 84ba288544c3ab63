package fetchmode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// testClock advances manually so hysteresis is deterministic.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(initial graph.DetailLevel, cfg Config) (*Controller, *testClock) {
	clock := &testClock{t: time.Unix(1000, 0)}
	c := New(initial, cfg)
	c.now = clock.now
	return c, clock
}

func cfgForTest() Config {
	cfg := DefaultConfig()
	cfg.MinDwell = time.Second
	cfg.DowngradeCooldown = 5 * time.Second
	cfg.ConfirmTicks = 3
	return cfg
}

func far() Metrics  { return Metrics{DistanceToGoalM: 100000, ProgressPct: 50} }
func mid() Metrics  { return Metrics{DistanceToGoalM: 10000, ProgressPct: 50} }
func near() Metrics { return Metrics{DistanceToGoalM: 1000, ProgressPct: 90} }

func TestUpgradeNeedsConsecutiveTicks(t *testing.T) {
	c, clock := newTestController(graph.Backbone, cfgForTest())

	// Two near ticks are not enough.
	for i := 0; i < 2; i++ {
		mode, changed := c.Evaluate(near())
		assert.Equal(t, graph.Backbone, mode)
		assert.False(t, changed)
		clock.advance(100 * time.Millisecond)
	}

	// An interleaved contradicting tick resets the debounce counter.
	_, changed := c.Evaluate(far())
	assert.False(t, changed)
	clock.advance(100 * time.Millisecond)

	for i := 0; i < 2; i++ {
		_, changed = c.Evaluate(near())
		assert.False(t, changed, "counter must restart after the far tick")
		clock.advance(100 * time.Millisecond)
	}
	mode, changed := c.Evaluate(near())
	assert.True(t, changed)
	assert.Equal(t, graph.Detailed, mode)
}

func TestMinDwellBlocksReEvaluation(t *testing.T) {
	c, clock := newTestController(graph.Backbone, cfgForTest())

	for i := 0; i < 3; i++ {
		c.Evaluate(mid())
		clock.advance(10 * time.Millisecond)
	}
	assert.Equal(t, graph.Express, c.Mode())

	// Straight after the transition not even a strong trigger may fire.
	for i := 0; i < 5; i++ {
		mode, changed := c.Evaluate(near())
		assert.Equal(t, graph.Express, mode)
		assert.False(t, changed)
		clock.advance(100 * time.Millisecond)
	}

	clock.advance(time.Second)
	for i := 0; i < 3; i++ {
		c.Evaluate(near())
		clock.advance(10 * time.Millisecond)
	}
	assert.Equal(t, graph.Detailed, c.Mode())
}

func TestFreezeSuspendsTransitions(t *testing.T) {
	c, clock := newTestController(graph.Backbone, cfgForTest())
	c.Freeze(10 * time.Second)

	for i := 0; i < 10; i++ {
		mode, changed := c.Evaluate(near())
		assert.Equal(t, graph.Backbone, mode)
		assert.False(t, changed)
		clock.advance(500 * time.Millisecond)
	}

	// Past the freeze window transitions resume.
	clock.advance(10 * time.Second)
	for i := 0; i < 3; i++ {
		c.Evaluate(near())
		clock.advance(10 * time.Millisecond)
	}
	assert.Equal(t, graph.Detailed, c.Mode())
}

func TestDowngradeFromDetailedResists(t *testing.T) {
	c, clock := newTestController(graph.Backbone, cfgForTest())

	// Reach Detailed.
	for i := 0; i < 3; i++ {
		c.Evaluate(near())
		clock.advance(10 * time.Millisecond)
	}
	assert.Equal(t, graph.Detailed, c.Mode())
	clock.advance(2 * time.Second)

	// Far-from-goal readings alone never downgrade: evidence is too weak.
	for i := 0; i < 10; i++ {
		_, changed := c.Evaluate(far())
		assert.False(t, changed)
		clock.advance(time.Second)
	}
	assert.Equal(t, graph.Detailed, c.Mode())

	// Strong evidence before the downgrade cooldown elapses also fails.
	strong := Metrics{
		DistanceToGoalM: 100000,
		OpenSetSize:     10000,
		ProgressPct:     2,
	}
	c2, clock2 := newTestController(graph.Backbone, cfgForTest())
	for i := 0; i < 3; i++ {
		c2.Evaluate(near())
		clock2.advance(10 * time.Millisecond)
	}
	clock2.advance(2 * time.Second) // past MinDwell, inside MinDwell+DowngradeCooldown
	_, changed := c2.Evaluate(strong)
	assert.False(t, changed)

	// After the full cooldown with sustained strong evidence it goes through.
	clock2.advance(10 * time.Second)
	for i := 0; i < 3; i++ {
		c2.Evaluate(strong)
		clock2.advance(10 * time.Millisecond)
	}
	assert.Equal(t, graph.Backbone, c2.Mode())
}

func TestGatewayJustifiesEarlyUpgrade(t *testing.T) {
	c, clock := newTestController(graph.Backbone, cfgForTest())

	// Distance alone says Backbone, but the endpoint sits at a low-detail
	// region edge.
	m := far()
	m.AtGateway = true
	for i := 0; i < 3; i++ {
		c.Evaluate(m)
		clock.advance(10 * time.Millisecond)
	}
	assert.Equal(t, graph.Detailed, c.Mode())
}

func TestStallCountUpgradesToExpress(t *testing.T) {
	c, clock := newTestController(graph.Backbone, cfgForTest())

	m := far()
	m.StallCount = 80
	for i := 0; i < 3; i++ {
		c.Evaluate(m)
		clock.advance(10 * time.Millisecond)
	}
	assert.Equal(t, graph.Express, c.Mode())
}
