package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUpsertRemoteTrack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO remote_tracks").
		WithArgs("peer.example", "p2p://peer.example/track/1", "Take Five", "Dave Brubeck", "Time Out", AvailabilityOnline).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewRemoteTrackStore(db)
	err = store.Upsert(context.Background(), RemoteTrack{
		InstanceDomain: "peer.example",
		RemoteURI:      "p2p://peer.example/track/1",
		Title:          "Take Five",
		ArtistName:     "Dave Brubeck",
		AlbumTitle:     "Time Out",
		Availability:   AvailabilityOnline,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkOffline(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE remote_tracks SET availability").
		WithArgs(AvailabilityOffline, "peer.example").
		WillReturnResult(sqlmock.NewResult(0, 2))

	store := NewRemoteTrackStore(db)
	if err := store.MarkOffline(context.Background(), "peer.example"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListByInstance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "instance_domain", "remote_uri", "title", "artist_name", "album_title", "availability", "last_checked_at"}).
		AddRow(1, "peer.example", "p2p://peer.example/track/1", "Take Five", "Dave Brubeck", "Time Out", AvailabilityOnline, time.Now())
	mock.ExpectQuery("SELECT id, instance_domain, remote_uri, title, artist_name, album_title, availability, last_checked_at").
		WithArgs("peer.example").
		WillReturnRows(rows)

	store := NewRemoteTrackStore(db)
	tracks, err := store.ListByInstance(context.Background(), "peer.example")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Title != "Take Five" {
		t.Fatalf("unexpected result: %+v", tracks)
	}
}

func TestMatchesQuery(t *testing.T) {
	cases := []struct {
		query string
		text  string
		want  bool
	}{
		{"brubeck", "Take Five Dave Brubeck Time Out", true},
		{"take five", "Take Five Dave Brubeck Time Out", true},
		{"take zeppelin", "Take Five Dave Brubeck Time Out", false},
		{"", "anything at all", true},
		{"a", "anything at all", true}, // single-char terms are discarded, leaving an empty query
	}
	for _, c := range cases {
		if got := MatchesQuery(c.query, c.text); got != c.want {
			t.Errorf("MatchesQuery(%q, %q) = %v, want %v", c.query, c.text, got, c.want)
		}
	}
}

func TestFilterByQuery(t *testing.T) {
	tracks := []LocalTrack{
		{ID: "1", Title: "Take Five", ArtistName: "Dave Brubeck", AlbumTitle: "Time Out"},
		{ID: "2", Title: "Stairway to Heaven", ArtistName: "Led Zeppelin"},
	}
	got := FilterByQuery(tracks, "zeppelin")
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("expected only the zeppelin track, got %+v", got)
	}
	if got := FilterByQuery(tracks, "xyzzy"); len(got) != 0 {
		t.Fatalf("expected no matches, got %+v", got)
	}
}

func TestSearchableText(t *testing.T) {
	track := LocalTrack{Title: "Take Five", ArtistName: "Dave Brubeck", AlbumTitle: "Time Out"}
	want := "Take Five Dave Brubeck Time Out"
	if got := track.SearchableText(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
