// Package ann maintains the approximate nearest neighbor structure for one
// collection: an HNSW graph over dense uint32 labels, the identity map that
// ties labels back to point IDs, and the staleness machinery that keeps
// queries fast without putting graph maintenance on the indexing write path.
package ann

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hyperjump/shirabe/pkg/utils"
)

// Candidate is one graph hit: a label and its squared L2 distance to the query.
type Candidate struct {
	Label    uint32
	Distance float32
}

type gnode struct {
	vector  []float32
	deleted bool
	// connections[l] holds neighbor labels at layer l.
	connections [][]uint32
}

// Graph is a hierarchical navigable small world index over an arena of nodes
// addressed by dense labels. Soft-deleted nodes keep their edges so searches
// can route through them; they are never returned.
type Graph struct {
	mu sync.RWMutex

	m              int
	mMax0          int
	efConstruction int
	efSearch       int
	ml             float64

	nodes    []*gnode
	entry    uint32
	maxLayer int
	deleted  int

	rng *rand.Rand
}

// NewGraph returns an empty graph. Level draws are seeded so identical
// insert sequences produce identical graphs.
func NewGraph(m, efConstruction, efSearch int) *Graph {
	return &Graph{
		m:              m,
		mMax0:          2 * m,
		efConstruction: efConstruction,
		efSearch:       efSearch,
		ml:             1 / math.Log(float64(m)),
		rng:            rand.New(rand.NewSource(1)),
	}
}

func (g *Graph) randomLevel() int {
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	return int(-math.Log(u) * g.ml)
}

// Insert adds vector under label. Labels must arrive densely: a new label
// equals the current node count. Re-inserting an existing label revives it
// without structural change.
func (g *Graph) Insert(label uint32, vector []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if int(label) < len(g.nodes) {
		n := g.nodes[label]
		if n.deleted {
			n.deleted = false
			g.deleted--
		}
		return nil
	}
	if int(label) != len(g.nodes) {
		return fmt.Errorf("label %d out of order, expected %d", label, len(g.nodes))
	}

	level := g.randomLevel()
	n := &gnode{vector: vector, connections: make([][]uint32, level+1)}
	g.nodes = append(g.nodes, n)

	if len(g.nodes) == 1 {
		g.entry = label
		g.maxLayer = level
		return nil
	}

	ep := g.entry
	for l := g.maxLayer; l > level; l-- {
		ep = g.closestAtLayer(vector, ep, l)
	}

	top := level
	if g.maxLayer < top {
		top = g.maxLayer
	}
	for l := top; l >= 0; l-- {
		candidates := g.searchLayer(vector, ep, g.efConstruction, l)
		limit := g.m
		if l == 0 {
			limit = g.mMax0
		}
		neighbors := candidates
		if len(neighbors) > limit {
			neighbors = neighbors[:limit]
		}
		conns := make([]uint32, 0, len(neighbors))
		for _, c := range neighbors {
			if c.Label == label {
				continue
			}
			conns = append(conns, c.Label)
		}
		n.connections[l] = conns
		for _, nb := range conns {
			peer := g.nodes[nb]
			if l >= len(peer.connections) {
				continue
			}
			peer.connections[l] = append(peer.connections[l], label)
			if len(peer.connections[l]) > limit {
				g.shrink(peer, l, limit)
			}
		}
		if len(candidates) > 0 {
			ep = candidates[0].Label
		}
	}

	if level > g.maxLayer {
		g.maxLayer = level
		g.entry = label
	}
	return nil
}

// shrink keeps the limit closest connections of n at layer.
func (g *Graph) shrink(n *gnode, layer, limit int) {
	conns := n.connections[layer]
	sort.Slice(conns, func(i, j int) bool {
		return utils.SquaredL2(n.vector, g.nodes[conns[i]].vector) <
			utils.SquaredL2(n.vector, g.nodes[conns[j]].vector)
	})
	n.connections[layer] = conns[:limit]
}

// closestAtLayer greedily descends to the local minimum around ep.
func (g *Graph) closestAtLayer(query []float32, ep uint32, layer int) uint32 {
	best := ep
	bestDist := utils.SquaredL2(query, g.nodes[ep].vector)
	for {
		improved := false
		n := g.nodes[best]
		if layer < len(n.connections) {
			for _, nb := range n.connections[layer] {
				d := utils.SquaredL2(query, g.nodes[nb].vector)
				if d < bestDist {
					best, bestDist = nb, d
					improved = true
				}
			}
		}
		if !improved {
			return best
		}
	}
}

// searchLayer runs a best-first expansion from ep with a dynamic candidate
// list of size ef, returning up to ef candidates sorted by distance.
// Soft-deleted nodes participate; callers filter them from final results.
func (g *Graph) searchLayer(query []float32, ep uint32, ef int, layer int) []Candidate {
	start := Candidate{Label: ep, Distance: utils.SquaredL2(query, g.nodes[ep].vector)}
	visited := map[uint32]bool{ep: true}
	candidates := &minHeap{start}
	results := &maxHeap{start}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Candidate)
		if results.Len() >= ef && c.Distance > (*results)[0].Distance {
			break
		}
		n := g.nodes[c.Label]
		if layer >= len(n.connections) {
			continue
		}
		for _, nb := range n.connections[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := utils.SquaredL2(query, g.nodes[nb].vector)
			if results.Len() < ef || d < (*results)[0].Distance {
				heap.Push(candidates, Candidate{Label: nb, Distance: d})
				heap.Push(results, Candidate{Label: nb, Distance: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]Candidate, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(Candidate)
	}
	return out
}

// Search returns the k nearest live labels to query.
func (g *Graph) Search(query []float32, k int) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.nodes) == 0 || k <= 0 {
		return nil
	}
	ep := g.entry
	for l := g.maxLayer; l > 0; l-- {
		ep = g.closestAtLayer(query, ep, l)
	}
	ef := g.efSearch
	if k > ef {
		ef = k
	}
	candidates := g.searchLayer(query, ep, ef, 0)

	out := make([]Candidate, 0, k)
	for _, c := range candidates {
		if g.nodes[c.Label].deleted {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out
}

// SoftDelete marks label as removed. The node stays traversable.
func (g *Graph) SoftDelete(label uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if int(label) >= len(g.nodes) {
		return false
	}
	n := g.nodes[label]
	if !n.deleted {
		n.deleted = true
		g.deleted++
	}
	return true
}

// Vector returns the stored vector for label, or nil when out of range.
func (g *Graph) Vector(label uint32) []float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(label) >= len(g.nodes) {
		return nil
	}
	return g.nodes[label].vector
}

// Len returns the total node count, deleted included.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Live returns the count of non-deleted nodes.
func (g *Graph) Live() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) - g.deleted
}

// Deleted returns the count of soft-deleted nodes.
func (g *Graph) Deleted() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.deleted
}

// DeletedRatio returns the fraction of nodes that are soft-deleted.
func (g *Graph) DeletedRatio() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return 0
	}
	return float64(g.deleted) / float64(len(g.nodes))
}

type minHeap []Candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].Distance < h[j].Distance }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []Candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
