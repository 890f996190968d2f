package tareas

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortMode orders the rendered list.
type SortMode string

const (
	SortNewestFirst     SortMode = "NewestFirst"
	SortOldestFirst     SortMode = "OldestFirst"
	SortTitleAscending  SortMode = "TitleAscending"
	SortTitleDescending SortMode = "TitleDescending"
)

func ParseSortMode(sortMode string) (SortMode, bool) {
	switch SortMode(sortMode) {
	case SortNewestFirst, SortOldestFirst, SortTitleAscending, SortTitleDescending:
		return SortMode(sortMode), true
	default:
		return SortNewestFirst, false
	}
}

type ViewEntry struct {
	Key  Key
	Task *Task
}

type ViewStats struct {
	// size of the filtered list, not the full collection
	Total     int
	Completed int
	Pending   int
}

// DeriveView computes the ordered list to render and the aggregate counts from
// the canonical collection plus the transient ui inputs. Pure function of its
// three inputs, recomputed from scratch on every change to any of them. This is
// the only place presentation order is decided.
func DeriveView(collection map[Key]*Task, searchText string, sortMode SortMode) ([]ViewEntry, ViewStats) {
	search := strings.ToLower(searchText)

	entries := []ViewEntry{}
	for _, key := range maps.Keys(collection) {
		task := collection[key]
		if search != "" && !strings.Contains(strings.ToLower(task.Title), search) {
			continue
		}
		entries = append(entries, ViewEntry{
			Key:  key,
			Task: task,
		})
	}

	// the title sorts are locale aware. collators are not safe for concurrent
	// use, so each derivation gets its own.
	titleCollator := collate.New(language.Spanish)

	slices.SortFunc(entries, func(a ViewEntry, b ViewEntry) int {
		if c := compareEntries(titleCollator, a, b, sortMode); c != 0 {
			return c
		}
		// fall back to key order on exact ties so the sort is total
		return strings.Compare(a.Key, b.Key)
	})

	stats := ViewStats{
		Total: len(entries),
	}
	for _, entry := range entries {
		if entry.Task.Completed {
			stats.Completed += 1
		}
	}
	stats.Pending = stats.Total - stats.Completed

	return entries, stats
}

func compareEntries(titleCollator *collate.Collator, a ViewEntry, b ViewEntry, sortMode SortMode) int {
	switch sortMode {
	case SortOldestFirst:
		// a missing createdAt sorts as the earliest possible time
		return a.Task.CreatedAt.Compare(b.Task.CreatedAt)
	case SortTitleAscending:
		return titleCollator.CompareString(a.Task.Title, b.Task.Title)
	case SortTitleDescending:
		return titleCollator.CompareString(b.Task.Title, a.Task.Title)
	default:
		// SortNewestFirst
		return b.Task.CreatedAt.Compare(a.Task.CreatedAt)
	}
}
