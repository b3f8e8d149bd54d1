package search

import (
	"testing"

	"github.com/mmcdole/kinoview/internal/domain"
)

func items(names ...string) []domain.MediaItem {
	out := make([]domain.MediaItem, len(names))
	for i, n := range names {
		out[i] = domain.MediaItem{ID: n, Account: "alice", FileName: n}
	}
	return out
}

func TestIndexFilter(t *testing.T) {
	idx := NewIndex(items("Holiday 2023.mp4", "birthday.mov", "notes.txt"))

	results := idx.Filter("hday")
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	for _, r := range results {
		if len(r.MatchedIndexes) != 4 {
			t.Fatalf("matched indexes = %v, want 4 positions", r.MatchedIndexes)
		}
	}

	if got := idx.Filter("NOTES"); len(got) != 1 || got[0].Item.FileName != "notes.txt" {
		t.Fatalf("case-insensitive match failed: %+v", got)
	}
	if got := idx.Filter("   "); got != nil {
		t.Fatalf("blank query returned %+v", got)
	}
}

func TestIndexFilterDiacriticFallback(t *testing.T) {
	idx := NewIndex(items("Café.mp4", "holiday.mkv"))

	results := idx.Filter("cafe")
	if len(results) != 1 || results[0].Item.FileName != "Café.mp4" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].MatchedIndexes != nil {
		t.Fatalf("fallback match should not carry indexes")
	}
}

func TestServiceDeduplicates(t *testing.T) {
	s := NewService(nil)
	s.Add(items("a.mp4", "b.mp4"))
	s.Add(items("b.mp4", "c.mp4"))

	if s.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", s.Count())
	}
	if got := s.Filter("c.mp4"); len(got) == 0 || got[0].Item.FileName != "c.mp4" {
		t.Fatalf("Filter() = %+v", got)
	}

	s.Clear()
	if s.Count() != 0 || s.Filter("a") != nil {
		t.Fatalf("index not cleared")
	}
}
