package dto

import "strings"

// SearchQuery is the free-text term and location a run synchronizes.
type SearchQuery struct {
	Term     string `json:"term" yaml:"term"`
	Location string `json:"location" yaml:"location"`
}

// Normalize trims surrounding whitespace from both parts.
func (q SearchQuery) Normalize() SearchQuery {
	return SearchQuery{
		Term:     strings.TrimSpace(q.Term),
		Location: strings.TrimSpace(q.Location),
	}
}

// Valid reports whether the query carries a search term.
func (q SearchQuery) Valid() bool {
	return strings.TrimSpace(q.Term) != ""
}
