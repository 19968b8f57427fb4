// Package engagement decides, once per content view, whether the viewer read
// the content deeply enough to earn the read reward.
package engagement

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// View identifies one content view.
type View struct {
	ContentID       string  `json:"contentId" binding:"required"`
	ReadTimeMinutes float64 `json:"readTimeMinutes" binding:"gte=0"`
	Premium         bool    `json:"premium"`
}

// Geometry is one scroll sample of the content element, in CSS pixels.
type Geometry struct {
	ViewportHeight float64 `json:"viewportHeight" binding:"gte=0"`
	ElementTop     float64 `json:"elementTop"`
	ScrollHeight   float64 `json:"scrollHeight" binding:"gte=0"`
}

// Depth is how far into the element the bottom of the viewport reached, in [0,1].
func (g Geometry) Depth() float64 {
	if g.ScrollHeight <= 0 {
		return 0
	}
	d := (g.ViewportHeight - g.ElementTop) / g.ScrollHeight
	return math.Max(0, math.Min(1, d))
}

// ReadSink receives exactly one call per view that completes a deep read.
type ReadSink func(contentID string)

// Collector tracks the current view of one session. Beginning a new view or
// leaving stops the previous view's check loop.
type Collector struct {
	cfg     *config.EngagementConfig
	clock   clockwork.Clock
	isGuest func() bool
	sink    ReadSink
	log     *logger.Logger

	mu       sync.Mutex
	view     *View
	start    time.Time
	maxDepth float64
	tracked  bool
	obscured bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector creates an idle collector. isGuest is consulted at scroll time.
func NewCollector(cfg *config.EngagementConfig, clock clockwork.Clock, isGuest func() bool, sink ReadSink, log *logger.Logger) *Collector {
	return &Collector{
		cfg:     cfg,
		clock:   clock,
		isGuest: isGuest,
		sink:    sink,
		log:     log.Component("engagement"),
	}
}

// RequiredDwell is the dwell time a view of readTimeMinutes needs.
func (c *Collector) RequiredDwell(readTimeMinutes float64) time.Duration {
	secs := math.Max(c.cfg.MinDwellSecs, readTimeMinutes*60*c.cfg.DwellRatio)
	return time.Duration(secs * float64(time.Second))
}

// Begin resets all per-view state for v and starts its periodic check.
func (c *Collector) Begin(v View) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.view = &v
	c.start = c.clock.Now()
	c.maxDepth = 0
	c.tracked = false
	c.obscured = false
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Debug().Str("content_id", v.ContentID).Msg("View started")
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
}

// Run evaluates the completion predicate on every tick until the read is
// tracked, the view changes or ctx is done.
func (c *Collector) Run(ctx context.Context) {
	c.mu.Lock()
	view := c.view
	c.mu.Unlock()
	if view == nil {
		return
	}

	ticker := c.clock.NewTicker(c.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Check()
			c.mu.Lock()
			stop := c.tracked || c.view != view
			c.mu.Unlock()
			if stop {
				return
			}
		}
	}
}

// OnScroll folds a scroll sample into the high-water mark and returns it.
func (c *Collector) OnScroll(g Geometry) float64 {
	depth := g.Depth()
	guest := c.isGuest()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return 0
	}
	if depth > c.maxDepth {
		c.maxDepth = depth
	}
	if c.view.Premium && guest && depth > c.cfg.PremiumBlurDepth && !c.obscured {
		c.obscured = true
		c.log.Debug().Str("content_id", c.view.ContentID).Msg("Premium overlay engaged")
	}
	return c.maxDepth
}

// Check evaluates the predicate once. The first time it holds the latch is
// set and the sink runs; it reports whether this call fired.
func (c *Collector) Check() bool {
	c.mu.Lock()
	if c.view == nil || c.tracked {
		c.mu.Unlock()
		return false
	}
	elapsed := c.clock.Since(c.start)
	if c.maxDepth <= c.cfg.DepthThreshold || elapsed < c.RequiredDwell(c.view.ReadTimeMinutes) {
		c.mu.Unlock()
		return false
	}
	c.tracked = true
	contentID := c.view.ContentID
	c.mu.Unlock()

	c.log.Info().Str("content_id", contentID).Dur("elapsed", elapsed).Msg("Deep read completed")
	if c.sink != nil {
		c.sink(contentID)
	}
	return true
}

// Leave ends the current view and stops its check loop.
func (c *Collector) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.view = nil
}

// Stopped returns a channel closed when the current view's loop exits.
func (c *Collector) Stopped() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Current returns the active view, or nil.
func (c *Collector) Current() *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return nil
	}
	v := *c.view
	return &v
}

// Depth returns the high-water scroll depth of the current view.
func (c *Collector) Depth() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxDepth
}

// Obscured reports whether the premium overlay is engaged.
func (c *Collector) Obscured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obscured
}

// Tracked reports whether the current view already completed a deep read.
func (c *Collector) Tracked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked
}
