package stats

import (
	"math"
	"sort"
)

// span is a weighted half open interval [start, end) of seconds.
type span struct {
	start  int
	end    int
	weight int
}

type peak struct {
	count int
	start int
	end   int
}

// findPeak returns the maximum total weight of spans overlapping
// at any time, and the longest interval during which it is
// attained. Ties go to the earliest interval. ok is false if no span
// has positive length and weight.
func findPeak(spans []span) (p peak, ok bool) {
	deltas := map[int]int{}
	for _, s := range spans {
		if s.weight <= 0 || s.end <= s.start {
			continue
		}
		deltas[s.start] += s.weight
		deltas[s.end] -= s.weight
	}
	if len(deltas) == 0 {
		return peak{}, false
	}

	times := make([]int, 0, len(deltas))
	for t := range deltas {
		times = append(times, t)
	}
	sort.Ints(times)

	// counts[i] holds on [times[i], times[i+1])
	counts := make([]int, len(times))
	running := 0
	max := 0
	for i, t := range times {
		running += deltas[t]
		counts[i] = running
		if running > max {
			max = running
		}
	}

	bestLen := -1
	for i := 0; i < len(times)-1; {
		if counts[i] != max {
			i++
			continue
		}
		j := i
		for j+1 < len(times)-1 && counts[j+1] == max {
			j++
		}
		if l := times[j+1] - times[i]; l > bestLen {
			bestLen = l
			p = peak{count: max, start: times[i], end: times[j+1]}
		}
		i = j + 1
	}

	return p, true
}

type headways struct {
	min  int
	max  int
	mean int
}

// computeHeadways returns the gaps between consecutive distinct
// times within [from, to], pooled over all groups of times (one
// group per date). ok is false if there are none.
func computeHeadways(groups [][]int, from, to int) (h headways, ok bool) {
	sum, n := 0, 0
	for _, times := range groups {
		seen := map[int]bool{}
		window := []int{}
		for _, t := range times {
			if t < from || t > to || seen[t] {
				continue
			}
			seen[t] = true
			window = append(window, t)
		}
		sort.Ints(window)

		for i := 1; i < len(window); i++ {
			gap := window[i] - window[i-1]
			if n == 0 || gap < h.min {
				h.min = gap
			}
			if n == 0 || gap > h.max {
				h.max = gap
			}
			sum += gap
			n++
		}
	}
	if n == 0 {
		return headways{}, false
	}
	h.mean = int(math.Round(float64(sum) / float64(n)))
	return h, true
}
