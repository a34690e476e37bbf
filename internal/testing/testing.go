// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/evpn/internal/models"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// MockFacility records proxy settings instead of applying them.
type MockFacility struct {
	mu       sync.Mutex
	SetErr   error
	ClearErr error
	Applied  []models.ProxyConfiguration
	Clears   int
	Current  *models.ProxyConfiguration
}

func (m *MockFacility) Set(_ context.Context, cfg models.ProxyConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.Applied = append(m.Applied, cfg)
	m.Current = &cfg
	return nil
}

func (m *MockFacility) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Clears++
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.Current = nil
	return nil
}

// Active returns the configuration currently set, nil when cleared.
func (m *MockFacility) Active() *models.ProxyConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Current
}

// ClearCount returns how many times Clear was called.
func (m *MockFacility) ClearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Clears
}

// MockProber returns Err for every probe and counts calls.
type MockProber struct {
	mu    sync.Mutex
	Err   error
	Calls int
	Last  models.ProxyConfiguration
}

func (m *MockProber) Probe(_ context.Context, cfg models.ProxyConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.Last = cfg
	return m.Err
}

// SetErr swaps the error returned by later probes.
func (m *MockProber) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// MockIndicator records badge updates.
type MockIndicator struct {
	mu     sync.Mutex
	Badges []models.Badge
}

func (m *MockIndicator) SetBadge(_ context.Context, b models.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Badges = append(m.Badges, b)
	return nil
}

// Last returns the most recent badge.
func (m *MockIndicator) Last() models.Badge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Badges) == 0 {
		return models.Badge{}
	}
	return m.Badges[len(m.Badges)-1]
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}
