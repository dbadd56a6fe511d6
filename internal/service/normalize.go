package service

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/octobees/vcardsync/internal/entity"
)

const defaultPhoneRegion = "CH"

var phoneLabels = map[string]struct{}{
	"phone":  {},
	"mobile": {},
	"tel":    {},
	"natel":  {},
}

// Normalizer maps provider records onto contacts. It holds configuration only.
type Normalizer struct {
	dedupPhones bool
	region      string
}

// NormalizerOption configures optional behaviour.
type NormalizerOption func(*Normalizer)

// WithPhoneDedup drops phone numbers whose E.164 form was already seen on the
// same record. Numbers are parsed in region when they carry no country code.
func WithPhoneDedup(region string) NormalizerOption {
	return func(n *Normalizer) {
		n.dedupPhones = true
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			n.region = region
		}
	}
}

// NewNormalizer builds a normalizer that keeps duplicate phones by default.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{region: defaultPhoneRegion}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts raw into a Contact. Missing fields become empty values.
func (n *Normalizer) Normalize(raw entity.RawRecord) entity.Contact {
	return entity.Contact{
		ID:            strings.TrimSpace(raw.ID),
		UpdatedAt:     strings.TrimSpace(raw.Updated),
		Company:       strings.TrimSpace(raw.Org),
		FirstName:     strings.TrimSpace(raw.FirstName),
		LastName:      strings.TrimSpace(raw.LastName),
		Address:       assembleAddress(raw.Street, raw.StreetNo, raw.Zip, raw.City),
		Phones:        n.collectPhones(raw),
		Email:         firstEmail(raw.Extras),
		AttachmentURL: strings.TrimSpace(raw.AttachmentURL),
	}
}

// assembleAddress renders "street no, zip city", dropping empty parts.
func assembleAddress(street, streetNo, zip, city string) string {
	return joinNonEmpty(", ",
		joinNonEmpty(" ", street, streetNo),
		joinNonEmpty(" ", zip, city),
	)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func (n *Normalizer) collectPhones(raw entity.RawRecord) []string {
	candidates := make([]string, 0, len(raw.Phones))
	candidates = append(candidates, raw.Phones...)
	for _, extra := range raw.Extras {
		if _, ok := phoneLabels[strings.ToLower(strings.TrimSpace(extra.Label))]; ok {
			candidates = append(candidates, extra.Value)
		}
	}

	var phones []string
	seen := make(map[string]struct{})
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if n.dedupPhones {
			key := phoneKey(candidate, n.region)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		phones = append(phones, candidate)
	}
	return phones
}

// phoneKey is the E.164 form of raw, or raw itself when it does not parse.
func phoneKey(raw, region string) string {
	number, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsPossibleNumber(number) {
		return raw
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

func firstEmail(extras []entity.LabeledValue) string {
	for _, extra := range extras {
		if !strings.EqualFold(strings.TrimSpace(extra.Label), "email") {
			continue
		}
		if value := strings.TrimSpace(extra.Value); value != "" {
			return value
		}
	}
	return ""
}
