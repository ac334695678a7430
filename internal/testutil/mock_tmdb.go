// Package testutil provides testing utilities for the movie backfill.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MovieBasePath is the path prefix served by MockTMDB; use URL()+MovieBasePath as base URL.
const MovieBasePath = "/3/movie"

// MockResponse defines the behavior for a single movie id.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockTMDB is a configurable mock of the movie details endpoint.
type MockTMDB struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[int64]MockResponse
	delay     time.Duration

	// Tracking
	RequestCount    int
	RequestsByID    map[int64]int
	LastAuthHeader  string
	inFlight        int
	PeakConcurrency int
}

// NewMockTMDB creates a new mock server. Unknown ids answer 200 with {"id": <id>, ...}.
func NewMockTMDB() *MockTMDB {
	mock := &MockTMDB{
		responses:    make(map[int64]MockResponse),
		RequestsByID: make(map[int64]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))

	return mock
}

// URL returns the mock server URL.
func (m *MockTMDB) URL() string {
	return m.server.URL
}

// BaseURL returns the movie collection URL to configure clients with.
func (m *MockTMDB) BaseURL() string {
	return m.server.URL + MovieBasePath
}

// Close shuts down the mock server.
func (m *MockTMDB) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTMDB) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.RequestsByID = make(map[int64]int)
	m.LastAuthHeader = ""
	m.PeakConcurrency = 0
}

// SetResponse configures the response for one movie id.
func (m *MockTMDB) SetResponse(id int64, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = resp
}

// SetNotFound makes the given ids answer 404.
func (m *MockTMDB) SetNotFound(ids ...int64) {
	for _, id := range ids {
		m.SetResponse(id, NewNotFoundResponse())
	}
}

// SetDelay delays every default response.
func (m *MockTMDB) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTMDB) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestsFor returns how often id was requested.
func (m *MockTMDB) GetRequestsFor(id int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestsByID[id]
}

// GetLastAuthHeader returns the Authorization header of the latest request.
func (m *MockTMDB) GetLastAuthHeader() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastAuthHeader
}

// GetPeakConcurrency returns the highest number of simultaneously served requests.
func (m *MockTMDB) GetPeakConcurrency() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PeakConcurrency
}

func (m *MockTMDB) handle(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, MovieBasePath+"/")
	id, err := strconv.ParseInt(idStr, 10, 64)

	m.mu.Lock()
	m.RequestCount++
	m.LastAuthHeader = r.Header.Get("Authorization")
	if err == nil {
		m.RequestsByID[id]++
	}
	m.inFlight++
	if m.inFlight > m.PeakConcurrency {
		m.PeakConcurrency = m.inFlight
	}
	resp, custom := m.responses[id]
	delay := m.delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "application/json;charset=utf-8")

	if err != nil || !strings.HasPrefix(r.URL.Path, MovieBasePath+"/") {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"status_code":34,"status_message":"The resource you requested could not be found."}`))
		return
	}

	if !custom {
		resp = NewMovieResponse(id)
		resp.Delay = delay
	}

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

// MovieBody renders the default payload for id.
func MovieBody(id int64) string {
	return fmt.Sprintf(`{"id":%d,"title":"Movie %d","imdb_id":"tt%07d","runtime":%d}`, id, id, id, 90+id%60)
}

// NewMovieResponse creates a standard 200 OK movie payload.
func NewMovieResponse(id int64) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       MovieBody(id),
		Headers: map[string]string{
			"Cache-Control": "public, max-age=300",
			"ETag":          fmt.Sprintf(`W/"movie-%d"`, id),
		},
	}
}

// NewNotFoundResponse creates a 404 response with the API's error envelope.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"success":false,"status_code":34,"status_message":"The resource you requested could not be found."}`,
	}
}

// NewUnauthorizedResponse creates a 401 invalid-token response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"success":false,"status_code":7,"status_message":"Invalid API key: You must be granted a valid key."}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"success":false,"status_code":25,"status_message":"Your request count is over the allowed limit."}`,
		Headers:    map[string]string{"Retry-After": "1"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"success":false,"status_code":11,"status_message":"Internal error: Something went wrong."}`,
	}
}
