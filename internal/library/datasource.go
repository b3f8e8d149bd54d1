package library

import (
	"sort"
	"strings"

	"github.com/mmcdole/kinoview/internal/domain"
)

// Sort fields for Layout.Sort
const (
	SortByName = "name"
	SortByDate = "date"
	SortBySize = "size"
)

// Layout controls how a folder listing is presented
type Layout struct {
	Sort            string
	Ascending       bool
	DirectoryOnTop  bool
	FavoriteOnTop   bool
	ShowHiddenFiles bool
	FilterLivePhoto bool
}

// DefaultLayout returns the layout used for group folders
func DefaultLayout() Layout {
	return Layout{
		Sort:            SortByName,
		Ascending:       true,
		DirectoryOnTop:  true,
		FavoriteOnTop:   true,
		FilterLivePhoto: true,
	}
}

// BuildDataSource filters and orders items for display.
// Directories group before files, then favorites, then the sort field.
func BuildDataSource(items []domain.MediaItem, layout Layout) []domain.MediaItem {
	result := make([]domain.MediaItem, 0, len(items))
	for _, item := range items {
		if !layout.ShowHiddenFiles && item.IsHidden() {
			continue
		}
		// the still image stands for the pair
		if layout.FilterLivePhoto && item.LivePhoto && item.Class == domain.ClassVideo {
			continue
		}
		result = append(result, item)
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if layout.DirectoryOnTop && a.Directory != b.Directory {
			return a.Directory
		}
		if layout.FavoriteOnTop && a.Favorite != b.Favorite {
			return a.Favorite
		}
		if layout.Ascending {
			return less(a, b, layout.Sort)
		}
		return less(b, a, layout.Sort)
	})
	return result
}

func less(a, b domain.MediaItem, field string) bool {
	switch field {
	case SortByDate:
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
	case SortBySize:
		if a.Size != b.Size {
			return a.Size < b.Size
		}
	}
	an, bn := strings.ToLower(a.FileName), strings.ToLower(b.FileName)
	if an != bn {
		return an < bn
	}
	return a.FileName < b.FileName
}

// MarkLivePairs flags a video and an image sharing a base name as a live pair
func MarkLivePairs(items []domain.MediaItem) []domain.MediaItem {
	images := make(map[string]bool)
	videos := make(map[string]bool)
	for _, item := range items {
		key := strings.ToLower(item.BaseName())
		switch item.Class {
		case domain.ClassImage:
			images[key] = true
		case domain.ClassVideo:
			videos[key] = true
		}
	}

	out := make([]domain.MediaItem, len(items))
	for i, item := range items {
		key := strings.ToLower(item.BaseName())
		switch item.Class {
		case domain.ClassImage:
			item.LivePhoto = videos[key]
		case domain.ClassVideo:
			item.LivePhoto = images[key]
		}
		out[i] = item
	}
	return out
}
