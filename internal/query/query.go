// Package query filters, searches and pages a task snapshot for display.
// Everything here is pure and re-entrant: it never mutates the snapshot and
// may run concurrently with profile mutations.
package query

import (
	"strings"

	"heroline/internal/domain"
)

// DefaultPageSize is used when the caller does not configure one.
const DefaultPageSize = 10

// Status selects tasks by completion/recurrence state.
type Status string

const (
	StatusAll       Status = "all"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDaily     Status = "daily"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusAll, StatusActive, StatusCompleted, StatusDaily:
		return true
	default:
		return false
	}
}

// Filter is the conjunction of the set criteria. Nil priority/category mean
// "any". Page is 1-based and clamped into range.
type Filter struct {
	Text     string
	Priority *domain.Priority
	Category *string
	Status   Status
	Page     int
}

// Changed reports whether any criterion other than the page differs, which
// is the signal to reset the view back to page 1.
func (f Filter) Changed(prev Filter) bool {
	if f.Text != prev.Text || f.Status != prev.Status {
		return true
	}
	if (f.Priority == nil) != (prev.Priority == nil) {
		return true
	}
	if f.Priority != nil && *f.Priority != *prev.Priority {
		return true
	}
	if (f.Category == nil) != (prev.Category == nil) {
		return true
	}
	if f.Category != nil && *f.Category != *prev.Category {
		return true
	}
	return false
}

// Page is one window of the filtered set.
type Page struct {
	Tasks         []domain.Task `json:"tasks"`
	Page          int           `json:"page"`
	TotalPages    int           `json:"total_pages"`
	FilteredCount int           `json:"filtered_count"`
	PageSize      int           `json:"page_size"`
}

func matchesText(t domain.Task, needle string) bool {
	if needle == "" {
		return true
	}
	needle = strings.ToLower(needle)
	if strings.Contains(strings.ToLower(t.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Description), needle) {
		return true
	}
	if t.Category != nil && strings.Contains(strings.ToLower(*t.Category), needle) {
		return true
	}
	return false
}

func matchesStatus(t domain.Task, s Status) bool {
	switch s {
	case StatusActive:
		return !t.IsCompleted
	case StatusCompleted:
		return t.IsCompleted
	case StatusDaily:
		return t.IsDaily
	default:
		return true
	}
}

func matches(t domain.Task, f Filter) bool {
	if !matchesText(t, f.Text) {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.Category != nil && (t.Category == nil || !strings.EqualFold(*t.Category, *f.Category)) {
		return false
	}
	return matchesStatus(t, f.Status)
}

// Run applies the filter and returns the requested page window. The slice
// order of the input snapshot is preserved; predicate order never affects
// the result set.
func Run(tasks []domain.Task, f Filter, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	filtered := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if matches(t, f) {
			filtered = append(filtered, t)
		}
	}

	count := len(filtered)
	totalPages := (count + pageSize - 1) / pageSize

	page := f.Page
	if page < 1 {
		page = 1
	}
	// An empty set still presents as page 1 of 0.
	if maxPage := max(totalPages, 1); page > maxPage {
		page = maxPage
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, count)
	if start > count {
		start = count
	}
	return Page{
		Tasks:         filtered[start:end],
		Page:          page,
		TotalPages:    totalPages,
		FilteredCount: count,
		PageSize:      pageSize,
	}
}
