package metrics

import (
	"time"

	"github.com/mwojnars/schemat-sub000/pkg/atlas"
	"github.com/mwojnars/schemat-sub000/pkg/frame"
	"github.com/mwojnars/schemat-sub000/pkg/kernel"
)

// MailboxSource reports a mailbox's in-flight send count. Satisfied by
// *mailbox.Mailbox without importing it here, since mailbox already
// sits below metrics in the dependency graph only indirectly (via
// pkg/kernel); keeping the collector's own dependency footprint to
// kernel/atlas/frame avoids growing that graph further.
type MailboxSource interface {
	Pending() int
}

var allStates = []frame.State{
	frame.StateNew,
	frame.StateStarting,
	frame.StateRunning,
	frame.StatePaused,
	frame.StateStopping,
	frame.StateStopped,
}

// Collector periodically samples in-process state — the frame
// registry, the routing atlas, and any open mailboxes — into the
// package's gauges. Unlike the histogram/counter metrics updated
// inline at their call sites, gauges reflecting a live collection (frame
// counts, atlas record counts, mailbox backlog) are easier to keep
// correct by polling than by threading increment/decrement calls
// through every mutation site.
type Collector struct {
	kernel    *kernel.Kernel
	atlas     *atlas.Atlas
	mailboxes []MailboxSource
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector builds a Collector. atlas is whichever routing view is
// authoritative for this process: the global atlas on a master, the
// local atlas on a worker. mailboxes lists every open IPC/mailbox
// channel this process currently holds.
func NewCollector(k *kernel.Kernel, routingAtlas *atlas.Atlas, mailboxes []MailboxSource) *Collector {
	return &Collector{
		kernel:    k,
		atlas:     routingAtlas,
		mailboxes: mailboxes,
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectFrames()
	c.collectAtlas()
	c.collectMailboxes()
}

func (c *Collector) collectFrames() {
	if c.kernel == nil {
		return
	}
	counts := c.kernel.FrameCountsByState()
	for _, s := range allStates {
		FramesTotal.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

func (c *Collector) collectAtlas() {
	if c.atlas == nil {
		return
	}
	for role, n := range c.atlas.RecordCounts() {
		AtlasRecordsTotal.WithLabelValues(role).Set(float64(n))
	}
}

func (c *Collector) collectMailboxes() {
	total := 0
	for _, m := range c.mailboxes {
		if m == nil {
			continue
		}
		total += m.Pending()
	}
	MailboxPending.Set(float64(total))
}
