// Package pagination walks a cursor-paged source end to end.
//
// A Walker fetches the initial window, then follows the continuation keys
// backward and forward concurrently until each direction reaches its end or
// the page limit. Every page is handed to an optional sink, which is how a
// local mirror is warmed before a stream starts serving from it.
//
// Example usage:
//
//	w := pagination.NewWalker[catalog.Product](remote, redisMirror, pagination.DefaultConfig())
//	result, err := w.Walk(ctx)
//
// The walker:
//   - Fetches the initial window first to learn both continuation keys
//   - Runs one goroutine per direction, since each cursor chain is sequential
//   - Applies a timeout per page fetch
//   - Logs progress every 50 pages
//   - Returns partial results alongside the first error
package pagination
