package telemetry

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/stat"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkSpeciesExtinct BookmarkType = "species_extinct"
	BookmarkReactionBurst  BookmarkType = "reaction_burst"
	BookmarkBlockedSpike   BookmarkType = "blocked_spike"
	BookmarkSteadyState    BookmarkType = "steady_state"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	Iteration   int64        `csv:"iteration" json:"iteration"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"iteration", b.Iteration,
		"description", b.Description,
	)
}

// steadyWindows is how many consecutive quiet windows make a steady state.
const steadyWindows = 5

// BookmarkDetector detects interesting moments in the simulation.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	lastCount     map[string]int
	steadyCount   int
	steadyEmitted bool
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < steadyWindows {
		historySize = steadyWindows
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
		lastCount:   make(map[string]int),
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	bookmarks = append(bookmarks, bd.checkExtinctions(stats)...)

	if bd.historyFull || bd.historyIdx > 0 {
		if b := bd.checkReactionBurst(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkBlockedSpike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkSteadyState(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

// recent returns up to n most recent history entries, oldest first.
func (bd *BookmarkDetector) recent(n int) []WindowStats {
	size := bd.historyIdx
	if bd.historyFull {
		size = bd.historySize
	}
	if n > size {
		n = size
	}
	out := make([]WindowStats, 0, n)
	for i := n; i > 0; i-- {
		idx := (bd.historyIdx - i + bd.historySize) % bd.historySize
		out = append(out, bd.history[idx])
	}
	return out
}

func (bd *BookmarkDetector) checkExtinctions(stats WindowStats) []Bookmark {
	var out []Bookmark
	for _, sc := range stats.Species {
		prev, seen := bd.lastCount[sc.Species]
		if seen && prev > 0 && sc.Count == 0 {
			out = append(out, Bookmark{
				Type:        BookmarkSpeciesExtinct,
				Iteration:   stats.WindowEnd,
				Description: fmt.Sprintf("Species %s went from %d to 0 molecules", sc.Species, prev),
			})
		}
		bd.lastCount[sc.Species] = sc.Count
	}
	return out
}

func (bd *BookmarkDetector) checkReactionBurst(stats WindowStats) *Bookmark {
	history := bd.recent(bd.historySize)
	if len(history) < 3 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.Reactions
	}
	avg := float64(total) / float64(len(history))
	if avg == 0 {
		return nil
	}

	if float64(stats.Reactions) > avg*2.0 && stats.Reactions >= 10 {
		return &Bookmark{
			Type:        BookmarkReactionBurst,
			Iteration:   stats.WindowEnd,
			Description: fmt.Sprintf("%d reactions is %.1fx average (%.1f)", stats.Reactions, float64(stats.Reactions)/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkBlockedSpike(stats WindowStats) *Bookmark {
	history := bd.recent(bd.historySize)
	if len(history) < 3 || stats.Blocked < 10 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.Blocked
	}
	avg := float64(total) / float64(len(history))

	if float64(stats.Blocked) > avg*2.0 {
		return &Bookmark{
			Type:        BookmarkBlockedSpike,
			Iteration:   stats.WindowEnd,
			Description: fmt.Sprintf("%d blocked reactions against an average of %.1f", stats.Blocked, avg),
		}
	}
	return nil
}

// checkSteadyState fires once, after the live count has had a coefficient of
// variation below 5% over the last four windows for steadyWindows windows in
// a row.
func (bd *BookmarkDetector) checkSteadyState(stats WindowStats) *Bookmark {
	if bd.steadyEmitted {
		return nil
	}
	if stats.Live == 0 {
		bd.steadyCount = 0
		return nil
	}

	history := bd.recent(3)
	if len(history) < 3 {
		return nil
	}
	live := make([]float64, 0, 4)
	for _, h := range history {
		live = append(live, float64(h.Live))
	}
	live = append(live, float64(stats.Live))

	mean, variance := stat.MeanVariance(live, nil)
	if mean > 0 && variance/(mean*mean) < 0.0025 {
		bd.steadyCount++
	} else {
		bd.steadyCount = 0
	}

	if bd.steadyCount == steadyWindows {
		bd.steadyEmitted = true
		return &Bookmark{
			Type:        BookmarkSteadyState,
			Iteration:   stats.WindowEnd,
			Description: fmt.Sprintf("Live count steady around %.0f over %d windows", mean, steadyWindows),
		}
	}
	return nil
}
