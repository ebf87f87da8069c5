// Package routing finds water paths between ports around land obstacles.
//
// The router lays a regular grid over the hop's bounding box, marks grid
// nodes on land as blocked, and runs A* with great-circle edge costs. The
// resulting node chain is thinned with Douglas-Peucker. All work happens in
// unwrapped longitude space so hops across the antimeridian route like any
// other.
package routing

import (
	"container/heap"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-voyages/internal/geom"
)

var (
	// ErrNoPath means the grid has no water connection between the endpoints.
	ErrNoPath = errors.New("no water path between endpoints")
	// ErrDegenerate means the endpoints cannot be routed at all.
	ErrDegenerate = errors.New("degenerate routing input")
)

// Options tunes the routing grid.
type Options struct {
	// Resolution is the grid spacing in degrees. Smaller is slower and finer.
	Resolution float64
	// Margin pads the hop bounding box, in degrees.
	Margin float64
	// MaxNodes bounds the grid size; the resolution is coarsened to fit.
	MaxNodes int
	// Simplify is the Douglas-Peucker tolerance in degrees; 0 keeps every node.
	Simplify float64
	// Escape is the radius, in grid cells, around each endpoint where land
	// is passable. Ports sit on the coast, so their nearest node is often
	// on land.
	Escape int
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Resolution: 1.0,
		Margin:     10.0,
		MaxNodes:   250_000,
		Simplify:   0.5,
		Escape:     2,
	}
}

// Router computes land-avoiding paths.
type Router struct {
	obstacles *Obstacles
	opts      Options
}

// NewRouter creates a router over the given obstacles.
func NewRouter(obstacles *Obstacles, opts Options) *Router {
	if opts.Resolution <= 0 {
		opts.Resolution = DefaultOptions().Resolution
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultOptions().MaxNodes
	}
	if opts.Escape < 0 {
		opts.Escape = 0
	}
	return &Router{obstacles: obstacles, opts: opts}
}

// Route returns a path from 'from' to 'to' that avoids land. The path starts
// exactly at from and ends at to unwrapped against from. On error the caller
// decides the fallback.
func (r *Router) Route(from, to orb.Point) (orb.LineString, error) {
	if !valid(from) || !valid(to) {
		return nil, fmt.Errorf("%w: invalid coordinate %v -> %v", ErrDegenerate, from, to)
	}
	to = geom.Unwrap(from, to)
	if from == to {
		return nil, fmt.Errorf("%w: identical endpoints %v", ErrDegenerate, from)
	}

	g := r.newGrid(from, to)
	if r.clear(g, from, to) {
		return orb.LineString{from, to}, nil
	}

	nodes, err := g.search(func(a, b int) bool {
		return r.clear(g, g.point(a), g.point(b))
	})
	if err != nil {
		return nil, err
	}

	path := make(orb.LineString, 0, len(nodes)+2)
	path = append(path, from)
	for _, n := range nodes[1 : len(nodes)-1] {
		path = append(path, g.point(n))
	}
	path = append(path, to)

	if r.opts.Simplify > 0 && len(path) > 2 {
		path = r.simplify(g, path)
	}
	return path, nil
}

// simplify thins path with Douglas-Peucker. A simplified segment that
// crosses land is replaced by the original nodes it skipped.
func (r *Router) simplify(g *grid, path orb.LineString) orb.LineString {
	s, ok := simplify.DouglasPeucker(r.opts.Simplify).Simplify(path.Clone()).(orb.LineString)
	if !ok || len(s) < 2 {
		return path
	}

	out := orb.LineString{path[0]}
	i := 0
	for _, p := range s[1:] {
		j := i + 1
		for j < len(path) && path[j] != p {
			j++
		}
		if j == len(path) {
			return path
		}
		if r.clear(g, path[i], path[j]) {
			out = append(out, path[j])
		} else {
			out = append(out, path[i+1:j+1]...)
		}
		i = j
	}
	return out
}

// clear reports whether the straight segment stays off land outside the
// escape zones around the route endpoints.
func (r *Router) clear(g *grid, a, b orb.Point) bool {
	escape := float64(r.opts.Escape) * g.res
	if segmentDist(g.from, a, b) > escape && segmentDist(g.to, a, b) > escape {
		return !r.obstacles.Crosses(a, b)
	}

	// Land is allowed inside the escape radius, so only the pieces of ab
	// outside it are checked.
	outside := func(p orb.Point) bool {
		return planarDist(p, g.from) > escape && planarDist(p, g.to) > escape
	}
	n := int(math.Ceil(planarDist(a, b) / (g.res / 8)))
	prev, prevOut := a, outside(a)
	for i := 1; i <= max(n, 1); i++ {
		t := float64(i) / float64(max(n, 1))
		p := orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
		out := outside(p)
		switch {
		case out && prevOut:
			if r.obstacles.Crosses(prev, p) {
				return false
			}
		case out:
			if r.obstacles.Contains(p) {
				return false
			}
		case prevOut:
			if r.obstacles.Contains(prev) {
				return false
			}
		}
		prev, prevOut = p, out
	}
	return true
}

func valid(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) &&
		!math.IsInf(p[1], 0) && p[1] >= -90 && p[1] <= 90
}

func planarDist(a, b orb.Point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

// segmentDist is the planar distance from p to the segment ab.
func segmentDist(p, a, b orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return planarDist(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return planarDist(p, orb.Point{a[0] + t*dx, a[1] + t*dy})
}

// grid is a regular lon/lat lattice anchored at min.
type grid struct {
	from, to   orb.Point
	min        orb.Point
	res        float64
	cols, rows int
	blocked    []bool
	start      int
	goal       int
}

func (r *Router) newGrid(from, to orb.Point) *grid {
	b := orb.MultiPoint{from, to}.Bound().Pad(r.opts.Margin)
	b.Min[1] = math.Max(b.Min[1], -89)
	b.Max[1] = math.Min(b.Max[1], 89)

	res := r.opts.Resolution
	for {
		cols := int(math.Ceil((b.Max[0]-b.Min[0])/res)) + 1
		rows := int(math.Ceil((b.Max[1]-b.Min[1])/res)) + 1
		if cols*rows <= r.opts.MaxNodes {
			break
		}
		res *= 1.5
	}

	g := &grid{
		from: from,
		to:   to,
		min:  b.Min,
		res:  res,
		cols: int(math.Ceil((b.Max[0]-b.Min[0])/res)) + 1,
		rows: int(math.Ceil((b.Max[1]-b.Min[1])/res)) + 1,
	}
	g.start = g.nearest(from)
	g.goal = g.nearest(to)

	g.blocked = make([]bool, g.cols*g.rows)
	for i := range g.blocked {
		if g.nearEndpoint(i, r.opts.Escape) {
			continue
		}
		g.blocked[i] = r.obstacles.Contains(g.point(i))
	}
	return g
}

func (g *grid) point(i int) orb.Point {
	c, row := i%g.cols, i/g.cols
	return orb.Point{g.min[0] + float64(c)*g.res, g.min[1] + float64(row)*g.res}
}

func (g *grid) nearest(p orb.Point) int {
	c := int(math.Round((p[0] - g.min[0]) / g.res))
	row := int(math.Round((p[1] - g.min[1]) / g.res))
	c = min(max(c, 0), g.cols-1)
	row = min(max(row, 0), g.rows-1)
	return row*g.cols + c
}

func (g *grid) nearEndpoint(i, escape int) bool {
	c, row := i%g.cols, i/g.cols
	for _, e := range []int{g.start, g.goal} {
		ec, er := e%g.cols, e/g.cols
		if abs(c-ec) <= escape && abs(row-er) <= escape {
			return true
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

var neighbours = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// search runs A* from start to goal and returns the node chain, endpoints
// included. Only steps for which passable holds are taken.
func (g *grid) search(passable func(a, b int) bool) ([]int, error) {
	if g.start == g.goal {
		return []int{g.start, g.goal}, nil
	}

	goalPt := g.point(g.goal)
	cost := make([]float64, len(g.blocked))
	prev := make([]int, len(g.blocked))
	done := make([]bool, len(g.blocked))
	for i := range cost {
		cost[i] = math.Inf(1)
		prev[i] = -1
	}

	cost[g.start] = 0
	open := &nodeQueue{{index: g.start, f: geo.Distance(g.point(g.start), goalPt)}}

	for open.Len() > 0 {
		cur := heap.Pop(open).(queued)
		if done[cur.index] {
			continue
		}
		if cur.index == g.goal {
			return g.chain(prev), nil
		}
		done[cur.index] = true

		c, row := cur.index%g.cols, cur.index/g.cols
		curPt := g.point(cur.index)
		for _, d := range neighbours {
			nc, nr := c+d[0], row+d[1]
			if nc < 0 || nc >= g.cols || nr < 0 || nr >= g.rows {
				continue
			}
			next := nr*g.cols + nc
			if done[next] || g.blocked[next] || !passable(cur.index, next) {
				continue
			}
			nextPt := g.point(next)
			tentative := cost[cur.index] + geo.Distance(curPt, nextPt)
			if tentative < cost[next] {
				cost[next] = tentative
				prev[next] = cur.index
				heap.Push(open, queued{index: next, f: tentative + geo.Distance(nextPt, goalPt)})
			}
		}
	}
	return nil, ErrNoPath
}

func (g *grid) chain(prev []int) []int {
	var rev []int
	for n := g.goal; n != -1; n = prev[n] {
		rev = append(rev, n)
	}
	out := make([]int, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

type queued struct {
	index int
	f     float64
}

// nodeQueue is a min-heap on f; ties go to the lower index so searches are
// deterministic.
type nodeQueue []queued

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].index < q[j].index
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(queued)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
