package entity

// LabeledValue is a provider field whose meaning is carried by its label (e.g. "email", "fax").
type LabeledValue struct {
	Label string
	Value string
}

// RawRecord is a listing as returned by a source, before normalization.
// Every field is optional.
type RawRecord struct {
	ID            string
	Updated       string
	Org           string
	FirstName     string
	LastName      string
	Street        string
	StreetNo      string
	Zip           string
	City          string
	Phones        []string
	Extras        []LabeledValue
	AttachmentURL string
}
