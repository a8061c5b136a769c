// Package aggregator provides grouping and ranking over record batches,
// and a live aggregator that tracks throughput of a record stream.
package aggregator

import "sort"

// Count is one ranked key.
type Count[K comparable] struct {
	Key   K   `json:"key"`
	Count int `json:"count"`
}

// Counts maps keys to occurrence counts and remembers the order in which
// keys were first seen, which is the tie-break order for TopN.
type Counts[K comparable] struct {
	keys []K
	n    map[K]int
}

// GroupCount counts items by key. key may decline an item by returning
// false, which is how absent values are left out of a grouping.
func GroupCount[T any, K comparable](items []T, key func(T) (K, bool)) Counts[K] {
	c := Counts[K]{n: make(map[K]int)}
	for _, it := range items {
		k, ok := key(it)
		if !ok {
			continue
		}
		if _, seen := c.n[k]; !seen {
			c.keys = append(c.keys, k)
		}
		c.n[k]++
	}
	return c
}

// Get returns the count for k.
func (c Counts[K]) Get(k K) int { return c.n[k] }

// Len returns the number of distinct keys.
func (c Counts[K]) Len() int { return len(c.keys) }

// Keys returns the keys in first-seen order.
func (c Counts[K]) Keys() []K {
	out := make([]K, len(c.keys))
	copy(out, c.keys)
	return out
}

// Total returns the sum of all counts.
func (c Counts[K]) Total() int {
	var t int
	for _, v := range c.n {
		t += v
	}
	return t
}

// TopN returns the n highest counts, descending, ties in first-seen order.
// n <= 0 returns every key.
func TopN[K comparable](c Counts[K], n int) []Count[K] {
	out := make([]Count[K], len(c.keys))
	for i, k := range c.keys {
		out[i] = Count[K]{Key: k, Count: c.n[k]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Rate returns num/den, or 0 when den is 0.
func Rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
