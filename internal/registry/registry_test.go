package registry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/federatedfm/p2pcore/pkg/logging"
)

func strPtr(s string) *string { return &s }

// hexID builds a syntactically valid endpoint identity (64 hex chars)
// distinguishable by its leading byte.
func hexID(lead string) string {
	return lead + strings.Repeat("0", 64-len(lead))
}

func TestRegistryDefaultEmpty(t *testing.T) {
	r := New(logging.NewLogger())
	if r.Count() != 0 {
		t.Fatalf("expected empty registry")
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected empty list")
	}
}

func TestGetPeerNonexistent(t *testing.T) {
	r := New(logging.NewLogger())
	if _, ok := r.Get("nobody"); ok {
		t.Fatalf("expected not found")
	}
}

func TestUpsertInsertWithoutName(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("peer-1", nil, nil, 5)
	p, ok := r.Get("peer-1")
	if !ok {
		t.Fatalf("expected peer to exist")
	}
	if p.Name != "" || p.Version != "" {
		t.Fatalf("expected empty name/version, got %+v", p)
	}
	if p.TrackCount != 5 || !p.IsOnline {
		t.Fatalf("expected track_count=5, online=true, got %+v", p)
	}
}

func TestUpsertNamePreservedWhenOmitted(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("peer-1", strPtr("Alice"), strPtr("1.0.0"), 3)
	r.Upsert("peer-1", nil, nil, 4)

	p, _ := r.Get("peer-1")
	if p.Name != "Alice" || p.Version != "1.0.0" {
		t.Fatalf("expected name/version preserved, got %+v", p)
	}
	if p.TrackCount != 4 {
		t.Fatalf("expected track_count updated to 4, got %d", p.TrackCount)
	}
}

func TestUpsertNameReplacement(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("peer-1", strPtr("Alice"), nil, 1)
	r.Upsert("peer-1", strPtr("Alice2"), nil, 1)

	p, _ := r.Get("peer-1")
	if p.Name != "Alice2" {
		t.Fatalf("expected name replaced, got %q", p.Name)
	}
}

func TestUpsertMarksOnline(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("peer-1", nil, nil, 0)
	r.MarkOffline("peer-1")
	r.Upsert("peer-1", nil, nil, 0)

	p, _ := r.Get("peer-1")
	if !p.IsOnline {
		t.Fatalf("expected upsert to mark the peer online again")
	}
}

func TestUpsertUpdatesLastSeen(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("peer-1", nil, nil, 0)
	first, _ := r.Get("peer-1")

	time.Sleep(5 * time.Millisecond)
	r.Upsert("peer-1", nil, nil, 0)
	second, _ := r.Get("peer-1")

	if !second.LastSeenAt.After(first.LastSeenAt) {
		t.Fatalf("expected last_seen_at to advance")
	}
}

func TestMarkOfflineNonexistent(t *testing.T) {
	r := New(logging.NewLogger())
	if r.MarkOffline("nobody") {
		t.Fatalf("expected false for unknown peer")
	}
}

func TestRemoveNonexistent(t *testing.T) {
	r := New(logging.NewLogger())
	if r.Remove("nobody") {
		t.Fatalf("expected false for unknown peer")
	}
}

func TestListPeersMultiple(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("a", nil, nil, 0)
	r.Upsert("b", nil, nil, 0)
	r.Upsert("c", nil, nil, 0)
	if len(r.List()) != 3 {
		t.Fatalf("expected 3 peers")
	}
}

func TestOnlinePeersMixed(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("a", nil, nil, 0)
	r.Upsert("b", nil, nil, 0)
	r.MarkOffline("b")

	online := r.Online()
	if len(online) != 1 || online[0].NodeID != "a" {
		t.Fatalf("expected only peer a online, got %+v", online)
	}
}

func TestOnlinePeersAllOffline(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("a", nil, nil, 0)
	r.MarkOffline("a")
	if len(r.Online()) != 0 {
		t.Fatalf("expected no online peers")
	}
}

func TestPeerCountIncremental(t *testing.T) {
	r := New(logging.NewLogger())
	for i := 0; i < 5; i++ {
		r.Upsert(string(rune('a'+i)), nil, nil, 0)
	}
	if r.Count() != 5 {
		t.Fatalf("expected count 5, got %d", r.Count())
	}
}

func TestConcurrentUpsert(t *testing.T) {
	r := New(logging.NewLogger())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Upsert("shared", nil, nil, uint64(n))
		}(i)
	}
	wg.Wait()
	if r.Count() != 1 {
		t.Fatalf("expected single peer, got %d", r.Count())
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	r := New(logging.NewLogger())
	r.Upsert("peer-1", nil, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Upsert("peer-1", nil, nil, 1)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.List()
		}()
	}
	wg.Wait()
}

func TestPersist(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	r := New(logging.NewLogger())
	r.Upsert("peer-1", strPtr("Alice"), strPtr("1.0.0"), 7)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO p2p_peers")
	mock.ExpectExec("INSERT INTO p2p_peers").
		WithArgs("peer-1", "Alice", "1.0.0", uint64(7), true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := r.Persist(context.Background(), db); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadMarksEveryoneOffline(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	id := hexID("aa")
	rows := sqlmock.NewRows([]string{"node_id", "name", "version", "track_count", "last_seen_at"}).
		AddRow(id, "Alice", "1.0.0", uint64(3), time.Now())
	mock.ExpectQuery("SELECT node_id, name, version, track_count, last_seen_at FROM p2p_peers").
		WillReturnRows(rows)

	r := New(logging.NewLogger())
	loaded, err := r.Load(context.Background(), db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 1 {
		t.Fatalf("expected 1 peer loaded, got %d", loaded)
	}

	p, ok := r.Get(id)
	if !ok {
		t.Fatalf("expected the persisted peer to be loaded")
	}
	if p.IsOnline {
		t.Fatalf("expected loaded peer to be marked offline")
	}
	if p.Name != "Alice" || p.TrackCount != 3 {
		t.Fatalf("expected fields to round-trip, got %+v", p)
	}
}

func TestLoadDropsUnparseableIdentities(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	good := hexID("bb")
	rows := sqlmock.NewRows([]string{"node_id", "name", "version", "track_count", "last_seen_at"}).
		AddRow("not-an-identity", "Mallory", "1.0.0", uint64(9), time.Now()).
		AddRow(good, "Bob", "1.0.0", uint64(2), time.Now())
	mock.ExpectQuery("SELECT node_id, name, version, track_count, last_seen_at FROM p2p_peers").
		WillReturnRows(rows)

	r := New(logging.NewLogger())
	loaded, err := r.Load(context.Background(), db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 1 {
		t.Fatalf("expected only the valid identity to load, got %d", loaded)
	}
	if _, ok := r.Get("not-an-identity"); ok {
		t.Fatalf("expected the unparseable identity to be dropped")
	}
	if _, ok := r.Get(good); !ok {
		t.Fatalf("expected the valid identity to survive the load")
	}
}
