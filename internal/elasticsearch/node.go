package elasticsearch

import (
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Node is a single cluster member the client can send requests to.
type Node struct {
	Host  string   // scheme://host:port
	Name  string   // optional, for logs
	Roles []string // optional; empty means unknown
}

func (n Node) String() string {
	if n.Name != "" {
		return n.Name + "(" + n.Host + ")"
	}
	return n.Host
}

// ParseNodes turns host entries into nodes. An entry may list roles after the host,
// e.g. "http://es1:9200|master|data". A host without scheme gets http://.
func ParseNodes(hosts []string) ([]Node, error) {
	nodes := make([]Node, 0, len(hosts))
	for _, entry := range hosts {
		parts := strings.Split(entry, "|")
		h := strings.TrimSpace(parts[0])
		if h == "" {
			continue
		}
		var roles []string
		for _, r := range parts[1:] {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				roles = append(roles, r)
			}
		}
		if !strings.Contains(h, "://") {
			h = "http://" + h
		}
		u, err := url.Parse(h)
		if err != nil {
			return nil, errors.Wrapf(err, "parse host %q", h)
		}
		if u.Host == "" {
			return nil, errors.Errorf("parse host %q: missing host", h)
		}
		nodes = append(nodes, Node{Host: u.Scheme + "://" + u.Host, Roles: roles})
	}
	return nodes, nil
}

// NodeSelector filters the nodes a request may go to. It must not reorder them.
type NodeSelector interface {
	Select(nodes []Node) []Node
}

// NodeSelectorFunc adapts a function to NodeSelector.
type NodeSelectorFunc func(nodes []Node) []Node

func (f NodeSelectorFunc) Select(nodes []Node) []Node { return f(nodes) }

// SelectAll lets requests go to every configured node.
var SelectAll NodeSelector = NodeSelectorFunc(func(nodes []Node) []Node { return nodes })

// SkipDedicatedMasters drops nodes whose only role is master. Nodes with unknown roles are kept.
var SkipDedicatedMasters NodeSelector = NodeSelectorFunc(func(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if len(n.Roles) == 1 && n.Roles[0] == "master" {
			continue
		}
		out = append(out, n)
	}
	return out
})

// NodeSelectorByName maps config values to selectors.
func NodeSelectorByName(name string) (NodeSelector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any", "all":
		return SelectAll, nil
	case "skip_dedicated_masters":
		return SkipDedicatedMasters, nil
	default:
		return nil, errors.Errorf("unknown node selector %q", name)
	}
}

// Routing decides the order in which candidate nodes are tried.
type Routing string

const (
	// RoutingRoundRobin rotates the starting node on every request.
	RoutingRoundRobin Routing = "round_robin"
	// RoutingAffinity starts at a node picked by hashing the endpoint, so one document keeps hitting one node.
	RoutingAffinity Routing = "affinity"
)

const (
	minDeadTimeout = time.Minute
	maxDeadTimeout = 30 * time.Minute
)

type deadState struct {
	failures  int
	deadUntil time.Time
}

// nodePool tracks which nodes are alive and hands out the try-order per request.
type nodePool struct {
	mu       sync.Mutex
	nodes    []Node
	dead     map[string]*deadState
	selector NodeSelector
	routing  Routing
	next     uint64
	now      func() time.Time
}

func newNodePool(nodes []Node, selector NodeSelector, routing Routing) *nodePool {
	if selector == nil {
		selector = SelectAll
	}
	if routing == "" {
		routing = RoutingRoundRobin
	}
	return &nodePool{
		nodes:    nodes,
		dead:     make(map[string]*deadState),
		selector: selector,
		routing:  routing,
		now:      time.Now,
	}
}

// candidates returns live selected nodes in try-order. When every selected node is dead
// the one that revives soonest is returned alone.
func (p *nodePool) candidates(key string) ([]Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	selected := p.selector.Select(p.nodes)
	if len(selected) == 0 {
		return nil, ErrNoNodes
	}

	now := p.now()
	live := make([]Node, 0, len(selected))
	var deadNodes []Node
	for _, n := range selected {
		if st, ok := p.dead[n.Host]; ok && now.Before(st.deadUntil) {
			deadNodes = append(deadNodes, n)
			continue
		}
		live = append(live, n)
	}

	if len(live) == 0 {
		sort.SliceStable(deadNodes, func(i, j int) bool {
			return p.dead[deadNodes[i].Host].deadUntil.Before(p.dead[deadNodes[j].Host].deadUntil)
		})
		return deadNodes[:1], nil
	}

	var start int
	switch p.routing {
	case RoutingAffinity:
		start = int(xxhash.Sum64String(key) % uint64(len(live)))
	default:
		start = int(p.next % uint64(len(live)))
		p.next++
	}
	out := make([]Node, 0, len(live))
	out = append(out, live[start:]...)
	out = append(out, live[:start]...)
	return out, nil
}

func (p *nodePool) markAlive(n Node) {
	p.mu.Lock()
	delete(p.dead, n.Host)
	p.mu.Unlock()
}

func (p *nodePool) markDead(n Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.dead[n.Host]
	if !ok {
		st = &deadState{}
		p.dead[n.Host] = st
	}
	st.failures++
	st.deadUntil = p.now().Add(deadTimeout(st.failures))
}

// deadTimeout grows as 1m * 2^((failures-1)/2), capped at 30m.
func deadTimeout(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := float64(minDeadTimeout) * math.Pow(2, float64(failures-1)*0.5)
	if d > float64(maxDeadTimeout) {
		return maxDeadTimeout
	}
	return time.Duration(d)
}
