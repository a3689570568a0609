// Package groupby provides an ordered group-by over slices. Keys keep
// first-seen order and elements keep their order within each group, so
// downstream iteration is deterministic in discovery order.
package groupby

// Grouped holds the result of a GroupBy call.
type Grouped[K comparable, V any] struct {
	keys   []K
	groups map[K][]V
}

// GroupBy partitions items by the given key function.
func GroupBy[K comparable, V any](items []V, key func(V) K) *Grouped[K, V] {
	g := &Grouped[K, V]{groups: make(map[K][]V)}
	for _, item := range items {
		k := key(item)
		if _, ok := g.groups[k]; !ok {
			g.keys = append(g.keys, k)
		}
		g.groups[k] = append(g.groups[k], item)
	}
	return g
}

// Keys returns group keys in first-seen order.
func (g *Grouped[K, V]) Keys() []K {
	return g.keys
}

// Get returns the group for key, in insertion order.
func (g *Grouped[K, V]) Get(key K) []V {
	return g.groups[key]
}

// Len returns the number of distinct groups.
func (g *Grouped[K, V]) Len() int {
	return len(g.keys)
}
