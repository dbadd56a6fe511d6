package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
	"github.com/octobees/vcardsync/internal/logger"
)

const (
	resultCountClass = "tel-result-count"
	detailPrefix     = "/tel/"
	vcardPathMarker  = "/tel/vcard/"
)

// WebSource scrapes the public search.ch result pages. Every result links to a detail
// page which carries the hCard fields and the vCard download link.
type WebSource struct {
	http    httpGetter
	baseURL *url.URL
	limiter *rate.Limiter
	logger  *zap.Logger
	perPage int
}

// WebOption configures optional dependencies.
type WebOption func(*WebSource)

// WithWebHTTPClient overrides the default HTTP client.
func WithWebHTTPClient(client HTTPClient) WebOption {
	return func(s *WebSource) {
		if client != nil {
			s.http.client = client
		}
	}
}

// WithWebUserAgent sets the User-Agent header.
func WithWebUserAgent(ua string) WebOption {
	return func(s *WebSource) {
		s.http.userAgent = ua
	}
}

// WithDetailLimiter paces detail page requests.
func WithDetailLimiter(l *rate.Limiter) WebOption {
	return func(s *WebSource) {
		s.limiter = l
	}
}

// WithWebLogger attaches a logger for skipped detail pages.
func WithWebLogger(l *zap.Logger) WebOption {
	return func(s *WebSource) {
		s.logger = logger.OrNop(l)
	}
}

// NewWebSource builds a scraping source rooted at the search page URL.
func NewWebSource(searchURL string, opts ...WebOption) (*WebSource, error) {
	base, err := parseBaseURL(searchURL)
	if err != nil {
		return nil, err
	}
	s := &WebSource{
		http:    httpGetter{client: http.DefaultClient},
		baseURL: base,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ Source = (*WebSource)(nil)

// FetchPage implements Source. The site pages by page number with a fixed page
// length, learned from the first page seen.
func (s *WebSource) FetchPage(ctx context.Context, query dto.SearchQuery, position, pageSize int) (dto.Page, error) {
	perPage := s.perPage
	if perPage <= 0 {
		perPage = pageSize
	}
	if perPage <= 0 {
		perPage = 10
	}
	pageNumber := (position-1)/perPage + 1

	u := *s.baseURL
	params := u.Query()
	params.Set("misc", query.Term)
	if query.Location != "" {
		params.Set("kanton", query.Location)
	}
	params.Set("firma", "1")
	params.Set("pages", strconv.Itoa(pageNumber))
	u.RawQuery = params.Encode()

	body, err := s.http.get(ctx, u.String())
	if err != nil {
		return dto.Page{}, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return dto.Page{}, fmt.Errorf("parse result page: %w", err)
	}

	total := extractTotal(doc)
	links := extractDetailLinks(doc)
	if pageNumber == 1 && len(links) > 0 && s.perPage == 0 {
		s.perPage = len(links)
	}

	records := make([]entity.RawRecord, 0, len(links))
	for _, link := range links {
		rec, err := s.fetchDetail(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return dto.Page{}, ctx.Err()
			}
			s.logger.Warn("detail page skipped", zap.String("detail", link.href), zap.Error(err))
			rec = entity.RawRecord{ID: link.href, Org: link.text}
		}
		records = append(records, rec)
	}

	return dto.Page{Records: records, Total: total}, nil
}

type detailLink struct {
	href string
	text string
}

func (s *WebSource) fetchDetail(ctx context.Context, link detailLink) (entity.RawRecord, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return entity.RawRecord{}, err
		}
	}
	body, err := s.http.get(ctx, resolve(s.baseURL, link.href))
	if err != nil {
		return entity.RawRecord{}, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return entity.RawRecord{}, fmt.Errorf("parse detail page: %w", err)
	}

	rec := entity.RawRecord{
		ID:        link.href,
		Org:       firstText(doc, "org"),
		FirstName: firstText(doc, "given-name"),
		LastName:  firstText(doc, "family-name"),
		Street:    firstText(doc, "street-address"),
		Zip:       firstText(doc, "postal-code"),
		City:      firstText(doc, "locality"),
	}
	if rec.Org == "" {
		rec.Org = link.text
	}

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		href := strings.TrimSpace(getAttr(n, "href"))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "tel:"):
			rec.Phones = append(rec.Phones, strings.TrimSpace(href[len("tel:"):]))
		case strings.HasPrefix(lower, "mailto:"):
			addr := href[len("mailto:"):]
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			rec.Extras = append(rec.Extras, entity.LabeledValue{Label: "email", Value: addr})
		case rec.AttachmentURL == "" && strings.Contains(href, vcardPathMarker):
			rec.AttachmentURL = resolve(s.baseURL, href)
		}
	})

	return rec, nil
}

func extractTotal(doc *html.Node) int {
	raw := firstText(doc, resultCountClass)
	raw = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	total, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return total
}

// extractDetailLinks returns result links in page order, without duplicates.
func extractDetailLinks(doc *html.Node) []detailLink {
	var links []detailLink
	seen := make(map[string]struct{})
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		href := strings.TrimSpace(getAttr(n, "href"))
		if href == detailPrefix || !strings.HasPrefix(href, detailPrefix) || strings.HasPrefix(href, detailPrefix+"?") || strings.Contains(href, "vcard") {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, detailLink{href: href, text: textContent(n)})
	})
	return links
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func firstText(doc *html.Node, class string) string {
	var found string
	walk(doc, func(n *html.Node) {
		if found != "" || n.Type != html.ElementNode || !hasClass(n, class) {
			return
		}
		found = textContent(n)
	})
	return found
}

func hasClass(n *html.Node, class string) bool {
	for _, token := range strings.Fields(getAttr(n, "class")) {
		if token == class {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}
