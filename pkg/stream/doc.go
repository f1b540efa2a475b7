// Package stream drives a paged list from a local mirror and a remote
// provider and reconciles their load states into a single signal.
//
// A Stream runs three load operations (refresh, prepend, append). Each one
// is observed on two tiers (local, remote), which gives six tier states. Every
// change to those states is applied under one lock, and the unified signal
// is recomputed from the full state with loadstate.Combine.
//
// # Basic Usage
//
//	s, err := stream.New[catalog.Product](mirror, remote, stream.DefaultConfig("products"))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	updates, cancel := s.Subscribe()
//	defer cancel()
//
//	_ = s.Refresh()
//	for snap := range updates {
//		switch {
//		case snap.Signal.Loading():
//			// show spinner
//		case snap.Signal.Failed():
//			// show snap.Signal.Err with a retry button wired to s.Retry
//		default:
//			// render snap.Items
//		}
//	}
//
// # Superseding
//
// Only the latest load of an (operation, tier) pair is applied. Each start
// bumps a generation counter and a result is applied only if the counter is
// unchanged when the source returns. In-flight source calls are never
// cancelled except by Close.
//
// # Errors
//
// Source failures never cross the stream boundary; they surface only through
// Snapshot.Signal. Consumer calls that cannot be honoured return a
// *MisuseError. A refresh result arriving while an edge load is in flight
// panics with *InconsistencyError.
//
// # Metrics
//
//   - pagestream_loads_total{operation,tier,outcome}
//   - pagestream_load_duration_seconds{operation,tier}
//   - pagestream_superseded_total{operation,tier}
//   - pagestream_retries_total{operation}
//   - pagestream_inconsistencies_total
//   - pagestream_items{stream}
package stream
