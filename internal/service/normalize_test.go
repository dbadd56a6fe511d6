package service

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/octobees/vcardsync/internal/entity"
)

func TestAssembleAddress(t *testing.T) {
	tests := map[string]struct {
		street, streetNo, zip, city string
		want                        string
	}{
		"full":        {street: "Bahnhofstrasse", streetNo: "10", zip: "8000", city: "Zürich", want: "Bahnhofstrasse 10, 8000 Zürich"},
		"no street":   {zip: "8000", city: "Zürich", want: "8000 Zürich"},
		"street only": {street: "Bahnhofstrasse", streetNo: "10", want: "Bahnhofstrasse 10"},
		"no number":   {street: "Dorfplatz", city: "Aarau", want: "Dorfplatz, Aarau"},
		"city only":   {city: "Bern", want: "Bern"},
		"whitespace":  {street: "  ", streetNo: " ", zip: " 3000 ", city: " Bern ", want: "3000 Bern"},
		"empty":       {want: ""},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := assembleAddress(tt.street, tt.streetNo, tt.zip, tt.city); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	raw := entity.RawRecord{
		ID:       " abc ",
		Updated:  "2024-04-18T06:00:00Z",
		Org:      " Muster AG ",
		Street:   "Bahnhofstrasse",
		StreetNo: "10",
		Zip:      "8000",
		City:     "Zürich",
		Phones:   []string{"+41 44 123 45 67", " ", "044 123 45 67"},
		Extras: []entity.LabeledValue{
			{Label: "Fax", Value: "+41441234568"},
			{Label: "Mobile", Value: "079 123 45 67"},
			{Label: "email", Value: "  "},
			{Label: "Email", Value: "info@muster.ch"},
			{Label: "email", Value: "sales@muster.ch"},
		},
		AttachmentURL: "https://tel.search.ch/vcard/Muster.vcf",
	}

	got := NewNormalizer().Normalize(raw)
	want := entity.Contact{
		ID:            "abc",
		UpdatedAt:     "2024-04-18T06:00:00Z",
		Company:       "Muster AG",
		Address:       "Bahnhofstrasse 10, 8000 Zürich",
		Phones:        []string{"+41 44 123 45 67", "044 123 45 67", "079 123 45 67"},
		Email:         "info@muster.ch",
		AttachmentURL: "https://tel.search.ch/vcard/Muster.vcf",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected contact (-want +got):\n%s", diff)
	}
}

func TestNormalizer_KeepsDuplicatePhonesByDefault(t *testing.T) {
	raw := entity.RawRecord{ID: "x", Phones: []string{"044 123 45 67", "044 123 45 67"}}
	if got := NewNormalizer().Normalize(raw).Phones; len(got) != 2 {
		t.Fatalf("expected duplicates preserved, got %v", got)
	}
}

func TestNormalizer_PhoneDedup(t *testing.T) {
	raw := entity.RawRecord{
		ID:     "x",
		Phones: []string{"044 123 45 67", "+41441234567", "+41 44 123 45 67", "unknown", "unknown"},
		Extras: []entity.LabeledValue{{Label: "natel", Value: "0791234567"}},
	}
	got := NewNormalizer(WithPhoneDedup("ch")).Normalize(raw).Phones
	want := []string{"044 123 45 67", "unknown", "0791234567"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected phones (-want +got):\n%s", diff)
	}
}

func TestNormalizer_EmptyRecord(t *testing.T) {
	got := NewNormalizer().Normalize(entity.RawRecord{})
	if diff := cmp.Diff(entity.Contact{}, got); diff != "" {
		t.Fatalf("expected zero contact (-want +got):\n%s", diff)
	}
	if got.HasEmail() {
		t.Fatalf("expected no email")
	}
}
