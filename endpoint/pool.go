package endpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docker/docker/client"
	"golang.org/x/sync/errgroup"
)

// Pool owns every endpoint in the system. Callers obtain *Endpoint values
// through Get, All, or Choose and call their methods directly.
type Pool struct {
	mu        sync.RWMutex
	endpoints map[EndpointId]*Endpoint
	order     []EndpointId
}

// SetupEndpoints connects every configured endpoint in parallel. If any
// endpoint fails to connect or fails its required-capability check, the
// whole setup fails and no partial pool is returned.
func SetupEndpoints(ctx context.Context, configs []Config) (*Pool, error) {
	pool := &Pool{endpoints: make(map[EndpointId]*Endpoint)}

	type built struct {
		id EndpointId
		ep *Endpoint
	}
	results := make([]built, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		i, cfg := i, cfg
		g.Go(func() error {
			cli, err := client.NewClientWithOpts(client.WithHost(cfg.Host), client.WithAPIVersionNegotiation())
			if err != nil {
				return fmt.Errorf("endpoint %s: connect: %w", cfg.Name, err)
			}
			id := EndpointId(cfg.Name)
			ep := &Endpoint{id: id, cfg: cfg, client: cli}
			if err := ep.Ping(gctx); err != nil {
				return fmt.Errorf("endpoint %s: failed readiness check: %w", cfg.Name, err)
			}
			if err := verifyCapabilities(gctx, ep); err != nil {
				return err
			}
			results[i] = built{id: id, ep: ep}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		pool.endpoints[r.id] = r.ep
		pool.order = append(pool.order, r.id)
	}
	return pool, nil
}

func verifyCapabilities(ctx context.Context, ep *Endpoint) error {
	if len(ep.cfg.RequiredDockerVers) == 0 && len(ep.cfg.RequiredAPIVersions) == 0 {
		return nil
	}
	info, err := ep.client.ServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("endpoint %s: server version: %w", ep.cfg.Name, err)
	}
	if len(ep.cfg.RequiredDockerVers) > 0 && !contains(ep.cfg.RequiredDockerVers, info.Version) {
		return fmt.Errorf("endpoint %s: daemon version %s not in required set %v", ep.cfg.Name, info.Version, ep.cfg.RequiredDockerVers)
	}
	if len(ep.cfg.RequiredAPIVersions) > 0 && !contains(ep.cfg.RequiredAPIVersions, info.APIVersion) {
		return fmt.Errorf("endpoint %s: API version %s not in required set %v", ep.cfg.Name, info.APIVersion, ep.cfg.RequiredAPIVersions)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Get returns the endpoint for id.
func (p *Pool) Get(id EndpointId) (*Endpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ep, ok := p.endpoints[id]
	return ep, ok
}

// All returns every endpoint in declared order.
func (p *Pool) All() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Endpoint, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.endpoints[id])
	}
	return out
}

// Choose picks the qualifying endpoint (declares image, below its
// concurrency budget) with the fewest in-flight jobs, breaking ties by
// declared order, and atomically reserves its slot before returning so two
// concurrent callers can never both land on the same last-available slot.
// The caller must call the returned endpoint's Release once its run ends.
// Returns false if none qualify.
func (p *Pool) Choose(image string) (*Endpoint, bool) {
	p.mu.RLock()
	var candidates []*Endpoint
	for _, id := range p.order {
		ep := p.endpoints[id]
		if !ep.DeclaresImage(image) {
			continue
		}
		candidates = append(candidates, ep)
	}
	p.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].InFlight() < candidates[j].InFlight()
	})
	for _, ep := range candidates {
		if ep.tryReserve() {
			return ep, true
		}
	}
	return nil, false
}
