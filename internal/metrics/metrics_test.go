package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	// None of these should panic even though m is nil.
	m.SetPoolSize(3)
	m.SetCache(1, 2, 3)
	m.SetPeers(1, 2)
	m.SetBloomIndexedPeers(1)
	m.IncPingSent()
	m.IncPingFailed()
	m.IncBlobFetch(true)
	m.IncQueryRouted()
}

func TestMetricsRecordValues(t *testing.T) {
	m := New()

	m.SetPoolSize(5)
	if got := testutil.ToFloat64(m.PoolSize); got != 5 {
		t.Fatalf("expected pool size 5, got %v", got)
	}

	m.SetCache(10, 1024, 2048)
	if got := testutil.ToFloat64(m.CacheEntries); got != 10 {
		t.Fatalf("expected cache entries 10, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheBytes); got != 1024 {
		t.Fatalf("expected cache bytes 1024, got %v", got)
	}

	m.IncPingSent()
	m.IncPingSent()
	if got := testutil.ToFloat64(m.PingsSent); got != 2 {
		t.Fatalf("expected 2 pings sent, got %v", got)
	}

	m.IncBlobFetch(true)
	if got := testutil.ToFloat64(m.BlobFetches); got != 1 {
		t.Fatalf("expected 1 blob fetch, got %v", got)
	}
	if got := testutil.ToFloat64(m.BlobFetchErrors); got != 1 {
		t.Fatalf("expected 1 blob fetch error, got %v", got)
	}
}
