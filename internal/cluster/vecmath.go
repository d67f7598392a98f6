package cluster

import (
	"math"
	"sort"
)

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func dist(a, b []float64) float64 {
	return math.Sqrt(sqDist(a, b))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(a []float64) float64 {
	return math.Sqrt(dot(a, a))
}

// mean returns the centroid of points[idx].
func mean(points [][]float64, idx []int) []float64 {
	if len(idx) == 0 {
		return nil
	}
	c := make([]float64, len(points[idx[0]]))
	for _, i := range idx {
		for j, v := range points[i] {
			c[j] += v
		}
	}
	for j := range c {
		c[j] /= float64(len(idx))
	}
	return c
}

// groups returns the member indices of every label, in corpus order.
func groups(labels []int) map[int][]int {
	g := make(map[int][]int)
	for i, l := range labels {
		g[l] = append(g[l], i)
	}
	return g
}

// relabel renumbers clusters 0..k-1 by first appearance so that ids do not
// depend on random initialisation. Unclustered stays as is.
func relabel(labels []int) ([]int, int) {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == Unclustered {
			out[i] = Unclustered
			continue
		}
		id, ok := mapping[l]
		if !ok {
			id = len(mapping)
			mapping[l] = id
		}
		out[i] = id
	}
	return out, len(mapping)
}

// silhouette computes the silhouette coefficient of every labelled point
// under Euclidean distance. Unclustered points are ignored. Points in
// singleton clusters score 0. It returns ok=false when fewer than two
// clusters, or no more clusters than points, are present.
func silhouette(points [][]float64, labels []int) (perPoint map[int]float64, overall float64, ok bool) {
	g := groups(labels)
	delete(g, Unclustered)
	total := 0
	for _, m := range g {
		total += len(m)
	}
	if len(g) < 2 || len(g) >= total {
		return nil, 0, false
	}

	ids := make([]int, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	perPoint = make(map[int]float64, total)
	var sum float64
	for _, own := range ids {
		members := g[own]
		for _, i := range members {
			if len(members) == 1 {
				perPoint[i] = 0
				continue
			}
			var a float64
			for _, j := range members {
				if j != i {
					a += dist(points[i], points[j])
				}
			}
			a /= float64(len(members) - 1)

			b := math.Inf(1)
			for _, other := range ids {
				if other == own {
					continue
				}
				var d float64
				for _, j := range g[other] {
					d += dist(points[i], points[j])
				}
				b = math.Min(b, d/float64(len(g[other])))
			}

			s := 0.0
			if m := math.Max(a, b); m > 0 {
				s = (b - a) / m
			}
			perPoint[i] = s
			sum += s
		}
	}
	return perPoint, sum / float64(total), true
}

// clusterQuality averages per-point silhouettes over each cluster.
func clusterQuality(labels []int, perPoint map[int]float64) map[int]float64 {
	if perPoint == nil {
		return nil
	}
	q := make(map[int]float64)
	for id, members := range groups(labels) {
		if id == Unclustered {
			continue
		}
		var s float64
		for _, i := range members {
			s += perPoint[i]
		}
		q[id] = s / float64(len(members))
	}
	return q
}

// rankByDistance orders each cluster's members by distance to the cluster
// centroid, nearest first, ties by corpus order.
func rankByDistance(points [][]float64, labels []int) map[int][]int {
	ranking := make(map[int][]int)
	for id, members := range groups(labels) {
		if id == Unclustered {
			continue
		}
		c := mean(points, members)
		ranked := append([]int(nil), members...)
		d := make(map[int]float64, len(members))
		for _, i := range members {
			d[i] = sqDist(points[i], c)
		}
		sort.SliceStable(ranked, func(x, y int) bool { return d[ranked[x]] < d[ranked[y]] })
		ranking[id] = ranked
	}
	return ranking
}

func ptr(v float64) *float64 { return &v }
