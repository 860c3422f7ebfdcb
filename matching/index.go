package matching

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// descriptor is a kdtree.Comparable that remembers its position in the indexed set.
type descriptor struct {
	index int
	v     []float64
}

// Compare returns the signed distance of p from the plane through c perpendicular to dimension d.
func (p descriptor) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(descriptor)
	return p.v[d] - q.v[d]
}

// Dims returns the number of dimensions described by the receiver.
func (p descriptor) Dims() int { return len(p.v) }

// Distance returns the squared Euclidean distance between c and the receiver.
func (p descriptor) Distance(c kdtree.Comparable) float64 {
	q := c.(descriptor)
	var sum float64
	for i, v := range p.v {
		d := v - q.v[i]
		sum += d * d
	}
	return sum
}

// descriptors is a collection of descriptor values satisfying kdtree.Interface.
type descriptors []descriptor

func (p descriptors) Index(i int) kdtree.Comparable { return p[i] }
func (p descriptors) Len() int                      { return len(p) }
func (p descriptors) Pivot(d kdtree.Dim) int {
	return plane{descriptors: p, Dim: d}.Pivot()
}
func (p descriptors) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane is a wrapping type that allows a descriptors to be pivoted on a dimension.
type plane struct {
	kdtree.Dim
	descriptors
}

func (p plane) Less(i, j int) bool {
	return p.descriptors[i].v[p.Dim] < p.descriptors[j].v[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.descriptors = p.descriptors[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.descriptors[i], p.descriptors[j] = p.descriptors[j], p.descriptors[i]
}

// neighbor is a nearest neighbor search hit.
type neighbor struct {
	index    int
	distance float64
}

// index answers exact k nearest neighbor queries over a set of descriptors.
type index struct {
	tree *kdtree.Tree
	size int
}

func newIndex(vectors [][]float64) *index {
	points := make(descriptors, len(vectors))
	for i, v := range vectors {
		points[i] = descriptor{index: i, v: v}
	}
	return &index{tree: kdtree.New(points, false), size: len(points)}
}

// nearest returns the k nearest indexed descriptors to v ordered by increasing Euclidean distance.
func (idx *index) nearest(v []float64, k int) []neighbor {
	keeper := kdtree.NewNKeeper(k)
	idx.tree.NearestSet(keeper, descriptor{index: -1, v: v})
	out := make([]neighbor, 0, k)
	for _, c := range keeper.Heap {
		// the keeper is seeded with an empty sentinel
		if c.Comparable == nil {
			continue
		}
		out = append(out, neighbor{index: c.Comparable.(descriptor).index, distance: c.Dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].distance == out[j].distance {
			return out[i].index < out[j].index
		}
		return out[i].distance < out[j].distance
	})
	for i := range out {
		out[i].distance = math.Sqrt(out[i].distance)
	}
	return out
}
