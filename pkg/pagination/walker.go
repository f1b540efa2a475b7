package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/pagestream/pkg/source"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds walker configuration
type Config struct {
	// PageSize requested per fetch
	PageSize int
	// MaxPages per direction, initial window excluded (0: until the end)
	MaxPages int
	// Timeout per page fetch
	Timeout time.Duration
	// Logger (optional, defaults to the global logger)
	Logger *zerolog.Logger
}

// DefaultConfig returns a default walker configuration
func DefaultConfig() Config {
	return Config{
		PageSize: 20,
		MaxPages: 50,
		Timeout:  15 * time.Second,
	}
}

// Result summarizes a walk
type Result struct {
	// Pages fetched per direction (Initial is 0 or 1)
	Pages map[source.Direction]int
	// Items fetched in total
	Items int
	// Ends reports the directions that reached their terminal key
	Ends map[source.Direction]bool
}

// Walker follows the continuation keys of a page source
type Walker[T source.Item] struct {
	src    source.PageSource[T]
	sink   source.Writer[T]
	cfg    Config
	logger zerolog.Logger
}

// NewWalker creates a walker over src. Pages are stored into sink when it
// is not nil.
func NewWalker[T source.Item](src source.PageSource[T], sink source.Writer[T], cfg Config) *Walker[T] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "pagination").Logger()
	} else {
		logger = log.With().Str("component", "pagination").Logger()
	}
	return &Walker[T]{src: src, sink: sink, cfg: cfg, logger: logger}
}

// Walk fetches the initial window and then walks both directions.
func (w *Walker[T]) Walk(ctx context.Context) (Result, error) {
	start := time.Now()
	result := Result{
		Pages: make(map[source.Direction]int),
		Ends:  make(map[source.Direction]bool),
	}
	var mu sync.Mutex

	first, err := w.fetch(ctx, source.Request{Direction: source.Initial, PageSize: w.cfg.PageSize})
	if err != nil {
		return result, fmt.Errorf("failed to fetch initial window: %w", err)
	}
	result.Pages[source.Initial] = 1
	result.Items = len(first.Items)

	w.logger.Info().
		Int("page_size", w.cfg.PageSize).
		Int("max_pages", w.cfg.MaxPages).
		Msg("Starting page walk")

	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range []source.Direction{source.Backward, source.Forward} {
		key := first.After
		if dir == source.Backward {
			key = first.Before
		}
		g.Go(func() error {
			pages, items, end, err := w.walk(gctx, dir, key)
			mu.Lock()
			result.Pages[dir] = pages
			result.Items += items
			result.Ends[dir] = end
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		w.logger.Warn().
			Err(err).
			Int("items", result.Items).
			Msg("Page walk failed - returning partial results")
		return result, err
	}

	w.logger.Info().
		Int("backward_pages", result.Pages[source.Backward]).
		Int("forward_pages", result.Pages[source.Forward]).
		Int("items", result.Items).
		Dur("duration", time.Since(start)).
		Msg("Page walk complete")

	return result, nil
}

// walk follows one direction from key.
func (w *Walker[T]) walk(ctx context.Context, dir source.Direction, key source.Key) (pages, items int, end bool, err error) {
	for !key.Terminal {
		if w.cfg.MaxPages > 0 && pages >= w.cfg.MaxPages {
			return pages, items, false, nil
		}

		page, err := w.fetch(ctx, source.Request{Key: key, Direction: dir, PageSize: w.cfg.PageSize})
		if err != nil {
			return pages, items, false, fmt.Errorf("%s page %d (key %s): %w", dir, pages+1, key, err)
		}
		pages++
		items += len(page.Items)

		if pages%50 == 0 {
			w.logger.Info().
				Str("direction", dir.String()).
				Int("pages", pages).
				Int("items", items).
				Msg("Walk progress")
		}

		next := page.After
		if dir == source.Backward {
			next = page.Before
		}
		if next == key {
			return pages, items, false, fmt.Errorf("%s page %d: continuation key %s did not advance", dir, pages, key)
		}
		key = next
	}
	return pages, items, true, nil
}

func (w *Walker[T]) fetch(ctx context.Context, req source.Request) (source.Page[T], error) {
	pageCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	page, err := w.src.Fetch(pageCtx, req)
	if err != nil {
		return page, err
	}

	if w.sink != nil {
		if err := w.sink.Put(ctx, req, page); err != nil {
			return page, fmt.Errorf("store page: %w", err)
		}
	}
	return page, nil
}
