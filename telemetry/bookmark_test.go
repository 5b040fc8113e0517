package telemetry

import "testing"

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_ReactionBurst(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{WindowEnd: int64(i * 100), Reactions: 5})
	}

	bookmarks := bd.Check(WindowStats{WindowEnd: 500, Reactions: 20})
	if !hasBookmark(bookmarks, BookmarkReactionBurst) {
		t.Errorf("expected reaction_burst bookmark, got %v", bookmarks)
	}
}

func TestBookmarkDetector_BlockedSpike(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 4; i++ {
		bd.Check(WindowStats{WindowEnd: int64(i * 100), Blocked: 2})
	}

	if b := bd.Check(WindowStats{WindowEnd: 400, Blocked: 5}); hasBookmark(b, BookmarkBlockedSpike) {
		t.Error("spike below the absolute floor should not trigger")
	}
	if b := bd.Check(WindowStats{WindowEnd: 500, Blocked: 30}); !hasBookmark(b, BookmarkBlockedSpike) {
		t.Error("expected blocked_spike bookmark")
	}
}

func TestBookmarkDetector_SpeciesExtinct(t *testing.T) {
	bd := NewBookmarkDetector(10)

	first := bd.Check(WindowStats{
		WindowEnd: 100,
		Species:   []SpeciesCount{{Species: "A", Count: 5}, {Species: "C", Count: 0}},
	})
	if hasBookmark(first, BookmarkSpeciesExtinct) {
		t.Error("a species that never existed cannot go extinct")
	}

	second := bd.Check(WindowStats{
		WindowEnd: 200,
		Species:   []SpeciesCount{{Species: "A", Count: 0}, {Species: "C", Count: 3}},
	})
	if !hasBookmark(second, BookmarkSpeciesExtinct) {
		t.Fatal("expected species_extinct bookmark")
	}
	if second[0].Iteration != 200 {
		t.Errorf("Iteration = %d, want 200", second[0].Iteration)
	}
}

func TestBookmarkDetector_SteadyStateOnce(t *testing.T) {
	bd := NewBookmarkDetector(10)

	var fired []int64
	for i := 0; i < 15; i++ {
		for _, bm := range bd.Check(WindowStats{WindowEnd: int64(i), Live: 100}) {
			if bm.Type == BookmarkSteadyState {
				fired = append(fired, bm.Iteration)
			}
		}
	}

	if len(fired) != 1 || fired[0] != 7 {
		t.Errorf("steady_state fired at %v, want [7]", fired)
	}
}

func TestBookmarkDetector_FluctuationResetsSteadyCount(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 15; i++ {
		live := 100
		if i%2 == 0 {
			live = 50
		}
		if b := bd.Check(WindowStats{WindowEnd: int64(i), Live: live}); hasBookmark(b, BookmarkSteadyState) {
			t.Fatalf("unexpected steady_state at window %d", i)
		}
	}
}
