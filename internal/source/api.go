package source

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
)

const vcardMediaType = "text/x-vcard"

type atomFeed struct {
	TotalResults int         `xml:"totalResults"`
	Entries      []atomEntry `xml:"entry"`
}

type atomEntry struct {
	AtomID    string     `xml:"http://www.w3.org/2005/Atom id"`
	Updated   string     `xml:"http://www.w3.org/2005/Atom updated"`
	Links     []atomLink `xml:"http://www.w3.org/2005/Atom link"`
	TelID     string     `xml:"http://tel.search.ch/api/spec/result/1.0/ id"`
	Org       string     `xml:"http://tel.search.ch/api/spec/result/1.0/ org"`
	FirstName string     `xml:"http://tel.search.ch/api/spec/result/1.0/ firstname"`
	Name      string     `xml:"http://tel.search.ch/api/spec/result/1.0/ name"`
	Street    string     `xml:"http://tel.search.ch/api/spec/result/1.0/ street"`
	StreetNo  string     `xml:"http://tel.search.ch/api/spec/result/1.0/ streetno"`
	Zip       string     `xml:"http://tel.search.ch/api/spec/result/1.0/ zip"`
	City      string     `xml:"http://tel.search.ch/api/spec/result/1.0/ city"`
	Phones    []string   `xml:"http://tel.search.ch/api/spec/result/1.0/ phone"`
	Extras    []telExtra `xml:"http://tel.search.ch/api/spec/result/1.0/ extra"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

type telExtra struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// APISource queries the tel.search.ch Atom API.
type APISource struct {
	http    httpGetter
	baseURL *url.URL
	apiKey  string
}

// APIOption configures optional dependencies.
type APIOption func(*APISource)

// WithAPIHTTPClient overrides the default HTTP client.
func WithAPIHTTPClient(client HTTPClient) APIOption {
	return func(s *APISource) {
		if client != nil {
			s.http.client = client
		}
	}
}

// WithAPIUserAgent sets the User-Agent header.
func WithAPIUserAgent(ua string) APIOption {
	return func(s *APISource) {
		s.http.userAgent = ua
	}
}

// NewAPISource builds an API-backed source.
func NewAPISource(baseURL, apiKey string, opts ...APIOption) (*APISource, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	s := &APISource{
		http:    httpGetter{client: http.DefaultClient},
		baseURL: base,
		apiKey:  strings.TrimSpace(apiKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ Source = (*APISource)(nil)

// FetchPage implements Source.
func (s *APISource) FetchPage(ctx context.Context, query dto.SearchQuery, position, pageSize int) (dto.Page, error) {
	u := *s.baseURL
	params := u.Query()
	params.Set("was", query.Term)
	if query.Location != "" {
		params.Set("wo", query.Location)
	}
	params.Set("pos", strconv.Itoa(position))
	params.Set("maxnum", strconv.Itoa(pageSize))
	params.Set("lang", "de")
	if s.apiKey != "" {
		params.Set("key", s.apiKey)
	}
	u.RawQuery = params.Encode()

	body, err := s.http.get(ctx, u.String())
	if err != nil {
		return dto.Page{}, err
	}
	return s.parseFeed(body)
}

func (s *APISource) parseFeed(body []byte) (dto.Page, error) {
	var feed atomFeed
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false
	if err := decoder.Decode(&feed); err != nil {
		return dto.Page{}, fmt.Errorf("decode atom feed: %w", err)
	}

	records := make([]entity.RawRecord, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		id := strings.TrimSpace(e.TelID)
		if id == "" {
			id = strings.TrimSpace(e.AtomID)
		}
		rec := entity.RawRecord{
			ID:        id,
			Updated:   e.Updated,
			Org:       e.Org,
			FirstName: e.FirstName,
			LastName:  e.Name,
			Street:    e.Street,
			StreetNo:  e.StreetNo,
			Zip:       e.Zip,
			City:      e.City,
			Phones:    e.Phones,
		}
		for _, extra := range e.Extras {
			rec.Extras = append(rec.Extras, entity.LabeledValue{Label: extra.Type, Value: extra.Value})
		}
		for _, link := range e.Links {
			if strings.EqualFold(strings.TrimSpace(link.Type), vcardMediaType) {
				rec.AttachmentURL = resolve(s.baseURL, link.Href)
				break
			}
		}
		records = append(records, rec)
	}

	return dto.Page{Records: records, Total: feed.TotalResults}, nil
}
