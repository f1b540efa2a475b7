// Package testutil provides testing utilities for pagestream providers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/pagestream/internal/catalog"
	json "github.com/goccy/go-json"
)

// CatalogPath is the path the mock serves pages on.
const CatalogPath = "/products"

// MockResponse defines a canned response that replaces a page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCatalog is a paged product catalog served over HTTP.
// Cursors are offsets into the product list.
type MockCatalog struct {
	server   *httptest.Server
	mu       sync.RWMutex
	products []catalog.Product
	start    int
	queued   []MockResponse
	delay    time.Duration

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	LastQuery         map[string]string
}

// NewMockCatalog creates a mock catalog over products. Initial windows
// start at offset start.
func NewMockCatalog(products []catalog.Product, start int) *MockCatalog {
	mock := &MockCatalog{
		products: products,
		start:    start,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastQuery = map[string]string{
			"cursor":    r.URL.Query().Get("cursor"),
			"direction": r.URL.Query().Get("direction"),
			"limit":     r.URL.Query().Get("limit"),
		}
		var canned *MockResponse
		if len(mock.queued) > 0 {
			canned = &mock.queued[0]
			mock.queued = mock.queued[1:]
		}
		delay := mock.delay
		mock.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		if canned != nil {
			writeCanned(w, *canned)
			return
		}

		if r.URL.Path != CatalogPath {
			http.NotFound(w, r)
			return
		}
		mock.pageHandler(w, r)
	}))

	return mock
}

// URL returns the catalog endpoint URL.
func (m *MockCatalog) URL() string {
	return m.server.URL + CatalogPath
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// Enqueue makes the next requests return the given responses, in order,
// before regular paging resumes.
func (m *MockCatalog) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, responses...)
}

// SetDelay delays every response by d.
func (m *MockCatalog) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCatalog) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastRequestHeader returns the headers of the last request.
func (m *MockCatalog) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// GetLastQuery returns the query parameters of the last request.
func (m *MockCatalog) GetLastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

type envelope struct {
	Items  []catalog.Product `json:"items"`
	Before *string           `json:"before"`
	After  *string           `json:"after"`
}

func (m *MockCatalog) pageHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error": "bad limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.products)

	var from, to int
	switch q.Get("direction") {
	case "", "initial":
		from, to = m.start, m.start+limit
	case "forward", "backward":
		off, err := strconv.Atoi(q.Get("cursor"))
		if err != nil {
			http.Error(w, `{"error": "bad cursor"}`, http.StatusBadRequest)
			return
		}
		from, to = off, off+limit
		if q.Get("direction") == "backward" {
			from, to = off-limit, off
		}
	default:
		http.Error(w, `{"error": "bad direction"}`, http.StatusBadRequest)
		return
	}
	from, to = clamp(from, total), clamp(to, total)

	body := envelope{
		Items:  m.products[from:to],
		Before: cursorAt(from, from == 0),
		After:  cursorAt(to, to >= total),
	}

	setBudgetHeaders(w, "100", "60")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func writeCanned(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func setBudgetHeaders(w http.ResponseWriter, remain, reset string) {
	w.Header().Set("X-Error-Limit-Remain", remain)
	w.Header().Set("X-Error-Limit-Reset", reset)
}

func cursorAt(offset int, terminal bool) *string {
	if terminal {
		return nil
	}
	s := strconv.Itoa(offset)
	return &s
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"X-Error-Limit-Remain": "95",
			"X-Error-Limit-Reset":  "60",
			"Content-Type":         "application/json; charset=utf-8",
		},
	}
}

// NewClientErrorResponse creates a 404 Not Found response.
func NewClientErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers: map[string]string{
			"X-Error-Limit-Remain": "99",
			"X-Error-Limit-Reset":  "60",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"X-Error-Limit-Remain": "10",
			"X-Error-Limit-Reset":  "30",
		},
	}
}

// NewBudgetCriticalResponse creates a 500 response that leaves the error
// budget below the critical threshold.
func NewBudgetCriticalResponse(remain int) MockResponse {
	resp := NewServerErrorResponse()
	resp.Headers["X-Error-Limit-Remain"] = strconv.Itoa(remain)
	return resp
}

// NewMalformedResponse creates a 200 response with a body that is not an
// envelope.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"items": "nope"`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
