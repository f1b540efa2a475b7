package stream

import (
	"github.com/Sternrassler/pagestream/pkg/loadstate"
	"github.com/Sternrassler/pagestream/pkg/source"
)

// Merge attaches incoming to current for op and returns a new slice.
// Refresh replaces; Prepend and Append attach at their edge after dropping
// incoming items whose id is already present. Neither input is modified.
func Merge[T source.Item](current, incoming []T, op loadstate.Operation) []T {
	if op == loadstate.Refresh {
		return dedupe(incoming, nil)
	}

	seen := make(map[string]struct{}, len(current))
	for _, item := range current {
		seen[item.ItemID()] = struct{}{}
	}
	fresh := dedupe(incoming, seen)

	out := make([]T, 0, len(current)+len(fresh))
	if op == loadstate.Prepend {
		out = append(out, fresh...)
		return append(out, current...)
	}
	out = append(out, current...)
	return append(out, fresh...)
}

// dedupe copies items, skipping ids in seen or repeated within items.
func dedupe[T source.Item](items []T, seen map[string]struct{}) []T {
	if seen == nil {
		seen = make(map[string]struct{}, len(items))
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		id := item.ItemID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	return out
}
