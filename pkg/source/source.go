// Package source defines the Page Source contract consumed by paged streams,
// together with the page, key and request types shared by every provider.
package source

import (
	"context"
	"fmt"
)

// Item is a unit of list content. ItemID must be stable for the lifetime
// of the item; streams use it to deduplicate pages.
type Item interface {
	ItemID() string
}

// Direction selects which edge of the list a fetch extends.
type Direction int

const (
	// Initial fetches the first window of a list (used by refresh).
	Initial Direction = iota

	// Backward fetches the page before the first loaded item.
	Backward

	// Forward fetches the page after the last loaded item.
	Forward
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	switch d {
	case Initial:
		return "initial"
	case Backward:
		return "backward"
	case Forward:
		return "forward"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection parses the wire name of a direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "initial":
		return Initial, nil
	case "backward", "prepend":
		return Backward, nil
	case "forward", "append":
		return Forward, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Key is a continuation token for one direction of a list.
// The zero Key is the start token used by initial fetches.
type Key struct {
	// Token is opaque to the stream and meaningful only to the provider.
	Token string `json:"token"`

	// Terminal marks that no more pages exist in this direction.
	Terminal bool `json:"terminal"`
}

// End is the terminal marker.
var End = Key{Terminal: true}

// At returns a non-terminal key for token.
func At(token string) Key {
	return Key{Token: token}
}

// String implements fmt.Stringer.
func (k Key) String() string {
	if k.Terminal {
		return "<end>"
	}
	return k.Token
}

// Page is an ordered batch of items plus the keys to continue in either direction.
type Page[T Item] struct {
	Items []T

	// Before continues backward from the first item.
	Before Key

	// After continues forward from the last item.
	After Key
}

// Request describes one fetch.
type Request struct {
	Key       Key
	Direction Direction
	PageSize  int
}

// PageSource fetches one page. Implementations must eventually return;
// timeouts are their responsibility.
type PageSource[T Item] interface {
	Fetch(ctx context.Context, req Request) (Page[T], error)
}

// Writer is implemented by local mirrors that accept pages fetched from the
// authoritative provider.
type Writer[T Item] interface {
	Put(ctx context.Context, req Request, page Page[T]) error
}

// Func adapts a plain function to PageSource.
type Func[T Item] func(ctx context.Context, req Request) (Page[T], error)

// Fetch calls f.
func (f Func[T]) Fetch(ctx context.Context, req Request) (Page[T], error) {
	return f(ctx, req)
}
