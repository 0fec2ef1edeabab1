package testing

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
)

// OpenScanners returns the number of scanners currently open.
func (m *MockServer) OpenScanners() int {
	m.t.Helper()
	srv := m.Server()
	if srv == nil {
		return 0
	}
	n, err := srv.Store().Len(m.t.Context())
	if err != nil {
		m.t.Fatalf("counting scanners: %v", err)
	}
	return n
}

// AssertScannersOpen asserts the number of open scanners.
func (m *MockServer) AssertScannersOpen(t testing.TB, want int) {
	t.Helper()
	if got := m.OpenScanners(); got != want {
		t.Errorf("expected %d open scanners, got %d", want, got)
	}
}

// RequestCount returns how many responses plugin answered with status, as
// reported by /system/metrics.
func (m *MockServer) RequestCount(plugin string, status int) int {
	m.t.Helper()

	resp, err := m.client.Get(m.URL() + "/system/metrics")
	if err != nil {
		m.t.Fatalf("scraping metrics: %v", err)
		return 0
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		m.t.Fatalf("scraping metrics: status %d", resp.StatusCode)
		return 0
	}

	n, err := sampleValue(resp.Body, fmt.Sprintf(`imposter_requests_total{plugin=%q,status="%d"}`, plugin, status))
	if err != nil {
		m.t.Fatalf("scraping metrics: %v", err)
	}
	return n
}

// AssertRequestCount asserts how many responses plugin answered with status.
func (m *MockServer) AssertRequestCount(t testing.TB, plugin string, status, want int) {
	t.Helper()
	if got := m.RequestCount(plugin, status); got != want {
		t.Errorf("expected %d %s responses with status %d, got %d", want, plugin, status, got)
	}
}

// sampleValue finds series in a text exposition and returns its value, or
// 0 when the series is absent.
func sampleValue(r io.Reader, series string) (int, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		rest, ok := strings.CutPrefix(line, series+" ")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %s: %w", series, err)
		}
		return int(v), nil
	}
	return 0, scanner.Err()
}
