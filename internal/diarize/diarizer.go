// Package diarize implements the Speaker Diarizer: grouping a session's
// speech segment embeddings into speaker clusters. The teacher's Diarizer
// does single-linkage transitive-closure clustering with a fixed distance
// threshold; this package instead follows the original speaker
// identification engine's approach - average-linkage agglomerative
// clustering with the cluster count chosen by sweeping a silhouette score.
package diarize

import (
	"math"

	"github.com/askidmobile/voxstream/internal/registry"
)

// minSpeakers/maxSpeakers bound the k sweep, mirroring the original
// engine's min(10, n/2) cap so a small embedding set never asks for more
// clusters than it could plausibly contain.
const defaultMaxSpeakers = 10

// Result is one clustered speech segment.
type Result struct {
	Index     int // index into the input embeddings slice
	SpeakerID int // 0-based, ordered by first occurrence
}

// Diarize clusters embeddings into speakers and returns, for each input
// index, the assigned 0-based speaker ID ordered by first appearance. A
// single embedding is always speaker 0. minSpeakers/maxSpeakers bound the
// candidate cluster counts; pass 0 to use the library defaults (min 2,
// max min(10, n/2)).
func Diarize(embeddings [][]float32, minSpeakers, maxSpeakers int) []Result {
	n := len(embeddings)
	results := make([]Result, n)
	for i := range results {
		results[i].Index = i
	}
	if n == 0 {
		return results
	}
	if n == 1 {
		results[0].SpeakerID = 0
		return results
	}

	if minSpeakers <= 0 {
		minSpeakers = 2
	}
	if maxSpeakers <= 0 {
		maxSpeakers = defaultMaxSpeakers
	}
	if maxSpeakers > n/2 {
		maxSpeakers = n / 2
	}
	if maxSpeakers < minSpeakers {
		maxSpeakers = minSpeakers
	}
	if minSpeakers < 1 {
		minSpeakers = 1
	}

	dist := distanceMatrix(embeddings)

	var bestLabels []int
	bestScore := math.Inf(-1)
	foundAny := false

	for k := minSpeakers; k <= maxSpeakers && k <= n; k++ {
		labels := agglomerativeCluster(dist, n, k)
		score := silhouetteScore(dist, labels, k)
		if !foundAny || score > bestScore {
			bestScore = score
			bestLabels = labels
			foundAny = true
		}
	}

	if !foundAny {
		// Sweep produced nothing usable (e.g. n too small) - fall back to
		// a 2-cluster split, the same fallback the original engine uses
		// when its silhouette sweep fails.
		bestLabels = agglomerativeCluster(dist, n, 2)
	}

	remap := relabelByFirstOccurrence(bestLabels)
	for i, id := range remap {
		results[i].SpeakerID = id
	}
	return results
}

// distanceMatrix computes pairwise cosine distance.
func distanceMatrix(embeddings [][]float32) [][]float64 {
	n := len(embeddings)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := registry.CosineDistance(embeddings[i], embeddings[j])
			d[i][j] = dist
			d[j][i] = dist
		}
	}
	return d
}

// agglomerativeCluster runs average-linkage agglomerative clustering down
// to exactly k clusters.
func agglomerativeCluster(dist [][]float64, n, k int) []int {
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	for len(clusters) > k {
		bestI, bestJ := -1, -1
		bestDist := math.Inf(1)

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := averageLinkageDistance(dist, clusters[i], clusters[j])
				if d < bestDist {
					bestDist = d
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 {
			break
		}

		merged := append(clusters[bestI], clusters[bestJ]...)
		next := make([][]int, 0, len(clusters)-1)
		for idx, c := range clusters {
			if idx == bestI || idx == bestJ {
				continue
			}
			next = append(next, c)
		}
		next = append(next, merged)
		clusters = next
	}

	labels := make([]int, n)
	for clusterID, members := range clusters {
		for _, m := range members {
			labels[m] = clusterID
		}
	}
	return labels
}

func averageLinkageDistance(dist [][]float64, a, b []int) float64 {
	var sum float64
	for _, i := range a {
		for _, j := range b {
			sum += dist[i][j]
		}
	}
	return sum / float64(len(a)*len(b))
}

// silhouetteScore computes the mean silhouette coefficient for a labeling,
// the same metric the original engine sweeps over candidate k values with.
func silhouetteScore(dist [][]float64, labels []int, k int) float64 {
	n := len(labels)
	if k < 2 || n < 3 {
		return math.Inf(-1)
	}

	members := make(map[int][]int)
	for i, l := range labels {
		members[l] = append(members[l], i)
	}

	var total float64
	var count int

	for i := 0; i < n; i++ {
		own := members[labels[i]]
		if len(own) < 2 {
			continue // silhouette undefined for singleton clusters, skip
		}

		a := meanDistanceTo(dist, i, own, true)

		b := math.Inf(1)
		for label, group := range members {
			if label == labels[i] {
				continue
			}
			d := meanDistanceTo(dist, i, group, false)
			if d < b {
				b = d
			}
		}
		if math.IsInf(b, 1) {
			continue
		}

		maxAB := math.Max(a, b)
		if maxAB == 0 {
			continue
		}
		total += (b - a) / maxAB
		count++
	}

	if count == 0 {
		return math.Inf(-1)
	}
	return total / float64(count)
}

func meanDistanceTo(dist [][]float64, i int, group []int, excludeSelf bool) float64 {
	var sum float64
	var n int
	for _, j := range group {
		if excludeSelf && j == i {
			continue
		}
		sum += dist[i][j]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// relabelByFirstOccurrence renumbers cluster labels 0, 1, 2... in the order
// they first appear in the input sequence, so "Speaker 0" is always
// whoever spoke first.
func relabelByFirstOccurrence(labels []int) []int {
	remap := make(map[int]int)
	next := 0
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := remap[l]
		if !ok {
			id = next
			remap[l] = id
			next++
		}
		out[i] = id
	}
	return out
}
