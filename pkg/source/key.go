package source

import (
	"fmt"
	"strings"
)

// PageKey identifies a stored page in a local mirror.
type PageKey struct {
	// Namespace separates independent lists sharing one backend (e.g. "products")
	Namespace string

	// Direction the page was requested in
	Direction Direction

	// Token of the request key. Empty for the initial window.
	Token string

	// PageSize, where the provider pages by size
	PageSize int
}

// KeyFor builds the PageKey of a request.
func KeyFor(namespace string, req Request) PageKey {
	return PageKey{
		Namespace: namespace,
		Direction: req.Direction,
		Token:     req.Key.Token,
		PageSize:  req.PageSize,
	}
}

// String generates a deterministic key string.
// Format: pagestream:namespace:direction:token[:size=N]
//
// Example:
//
//	pagestream:products:forward:40:size=20
func (k PageKey) String() string {
	parts := []string{k.Prefix() + k.Direction.String()}

	// initial windows share one slot regardless of token
	if k.Direction != Initial {
		parts = append(parts, k.Token)
	}

	if k.PageSize > 0 {
		parts = append(parts, fmt.Sprintf("size=%d", k.PageSize))
	}

	return strings.Join(parts, ":")
}

// Prefix returns the namespace prefix shared by every key of k's namespace,
// including the trailing separator.
func (k PageKey) Prefix() string {
	if ns := strings.Trim(k.Namespace, ":"); ns != "" {
		return "pagestream:" + ns + ":"
	}
	return "pagestream:"
}
