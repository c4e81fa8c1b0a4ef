package discovery

import (
	"context"
	"log"
	"sync"
	"time"

	"linkwatch/internal/backoff"
	"linkwatch/internal/domain"
	"linkwatch/internal/metrics"
	"linkwatch/internal/topology"
)

// Pipeline runs discovery sources and feeds their observations through
// the normalizer into the topology store. Sources that return an error
// are restarted with capped backoff; the pipeline itself only stops
// with its context.
type Pipeline struct {
	store   *topology.Store
	norm    *Normalizer
	sources []Source
}

// NewPipeline creates a pipeline over the given sources
func NewPipeline(store *topology.Store, sources ...Source) *Pipeline {
	return &Pipeline{
		store:   store,
		norm:    NewNormalizer(),
		sources: sources,
	}
}

// Run blocks until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) {
	observations := make(chan Observation, 256)

	var wg sync.WaitGroup
	for _, src := range p.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			p.runSource(ctx, src, observations)
		}(src)
	}

	for {
		select {
		case obs := <-observations:
			p.handle(obs)
		case <-ctx.Done():
			wg.Wait()
			log.Printf("Discovery pipeline stopped")
			return
		}
	}
}

// runSource keeps one source alive, restarting it with backoff when it
// fails. Cancellation ends the loop.
func (p *Pipeline) runSource(ctx context.Context, src Source, out chan<- Observation) {
	bo := backoff.New(time.Second, 30*time.Second, 2)
	for {
		err := src.Run(ctx, out)
		if ctx.Err() != nil {
			return
		}
		metrics.Reconnects.WithLabelValues(src.Name()).Inc()
		log.Printf("Discovery source %s failed (restarting in %s): %v", src.Name(), bo.Current(), err)
		if err := bo.Wait(ctx); err != nil {
			return
		}
	}
}

func (p *Pipeline) handle(obs Observation) {
	switch o := obs.(type) {
	case CounterSample:
		link, ok := p.resolve(o.LinkID, o.Iface)
		if !ok {
			return
		}
		// Both sides of a link can be locally visible (veth pairs), so
		// iface-identified samples get per-interface baselines. Samples
		// arriving pre-resolved carry no interface and key by link.
		key := o.Iface
		if key == "" {
			key = link.ID
		}
		m, ok := p.norm.Normalize(key, o, link.SpeedMbps)
		if !ok {
			return
		}
		if err := p.store.UpsertMetrics(link.ID, m, o.Timestamp, o.Source); err != nil {
			log.Printf("Metrics upsert for %s failed: %v", link.ID, err)
		}

	case LinkStatus:
		link, ok := p.resolve(o.LinkID, o.Iface)
		if !ok {
			return
		}
		trigger := topology.TriggerDown
		if o.Up {
			trigger = topology.TriggerUp
		}
		if err := p.store.ApplySignal(link.ID, trigger, o.Timestamp, o.Source); err != nil {
			log.Printf("Signal for %s failed: %v", link.ID, err)
		}
	}
}

// resolve maps an observation to its link snapshot. Observations for
// interfaces or links not present in the topology are silently skipped;
// discovery sees the whole machine, the topology only what was created.
func (p *Pipeline) resolve(linkID, iface string) (domain.Link, bool) {
	if linkID != "" {
		link, err := p.store.Link(linkID)
		if err != nil {
			return domain.Link{}, false
		}
		return link, true
	}
	if iface == "" {
		return domain.Link{}, false
	}
	return p.store.LinkByInterface(iface)
}
