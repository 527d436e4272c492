package task

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldKey returns the case-folded form of s used for ordering.
func foldKey(s string) string {
	return cases.Fold().String(s)
}

// searchKey folds case and strips combining marks so "Cafe" matches "café".
func searchKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Less orders tasks by title ascending, case-insensitively, then by ID.
func Less(a, b Task) bool {
	ka, kb := foldKey(a.Title), foldKey(b.Title)
	if ka != kb {
		return ka < kb
	}
	return a.ID < b.ID
}

// SortByTitle sorts tasks in place by the title ordering contract.
func SortByTitle(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return Less(tasks[i], tasks[j])
	})
}

// IsSorted reports whether tasks already follow the title ordering contract.
func IsSorted(tasks []Task) bool {
	return sort.SliceIsSorted(tasks, func(i, j int) bool {
		return Less(tasks[i], tasks[j])
	})
}

// Filter returns the tasks whose title contains query, ignoring case and
// diacritics. An empty query returns tasks unchanged. The input is never
// modified and relative order is preserved.
func Filter(tasks []Task, query string) []Task {
	if query == "" {
		return tasks
	}
	needle := searchKey(query)

	result := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.Contains(searchKey(t.Title), needle) {
			result = append(result, t)
		}
	}
	return result
}
