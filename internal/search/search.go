package search

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/kinoview/internal/domain"
)

// Result is a filter match with metadata for highlighting
type Result struct {
	Item           domain.MediaItem
	MatchedIndexes []int // Rune positions in the file name, nil for fallback matches
	Score          int   // Higher is better
}

// Index implements sahilm/fuzzy.Source over file names
type Index struct {
	items      []domain.MediaItem
	lowerNames []string
}

// String returns the lowercase file name at i (implements fuzzy.Source)
func (idx *Index) String(i int) string { return idx.lowerNames[i] }

// Len returns the number of items (implements fuzzy.Source)
func (idx *Index) Len() int { return len(idx.items) }

// NewIndex builds an index over items
func NewIndex(items []domain.MediaItem) *Index {
	idx := &Index{
		items:      make([]domain.MediaItem, len(items)),
		lowerNames: make([]string, len(items)),
	}
	copy(idx.items, items)
	for i, item := range items {
		idx.lowerNames[i] = strings.ToLower(item.FileName)
	}
	return idx
}

// Filter matches query against the index. Subsequence matches come from
// sahilm/fuzzy; when none are found, a diacritic-insensitive ranking is used
// so "cafe" still finds "Café.mp4".
func (idx *Index) Filter(query string) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || idx.Len() == 0 {
		return nil
	}

	matches := fuzzy.FindFrom(query, idx)
	if len(matches) > 0 {
		results := make([]Result, len(matches))
		for i, m := range matches {
			results[i] = Result{
				Item:           idx.items[m.Index],
				MatchedIndexes: m.MatchedIndexes,
				Score:          m.Score,
			}
		}
		return results
	}

	ranks := lfuzzy.RankFindNormalizedFold(query, idx.lowerNames)
	sort.Sort(ranks)
	results := make([]Result, len(ranks))
	for i, r := range ranks {
		results[i] = Result{
			Item:  idx.items[r.OriginalIndex],
			Score: -r.Distance,
		}
	}
	return results
}

// Service keeps an index of every listing seen so far for global filtering
type Service struct {
	logger *slog.Logger

	mu      sync.RWMutex
	index   *Index
	indexed map[string]bool
}

// NewService creates a new search service
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		index:   &Index{},
		indexed: make(map[string]bool),
	}
}

// Add indexes items, skipping ones already present
func (s *Service) Add(items []domain.MediaItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, item := range items {
		key := item.Account + ":" + item.ID
		if item.ID == "" {
			key = item.ServerURLFileName()
		}
		if s.indexed[key] {
			continue
		}
		s.indexed[key] = true
		s.index.items = append(s.index.items, item)
		s.index.lowerNames = append(s.index.lowerNames, strings.ToLower(item.FileName))
		added++
	}

	s.logger.Debug("indexed items for filter", "added", added, "skipped", len(items)-added, "total", s.index.Len())
}

// Filter searches every indexed item
func (s *Service) Filter(query string) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Filter(query)
}

// Clear removes all items from the index
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = &Index{}
	s.indexed = make(map[string]bool)
	s.logger.Debug("cleared filter index")
}

// Count returns the number of indexed items
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}
