package dto

import "github.com/octobees/vcardsync/internal/entity"

// Page is one batch of results returned by a listing source.
type Page struct {
	Records []entity.RawRecord
	// Total is the number of matches the source reports for the whole query.
	Total int
}
