// Package resolver turns attachment bytes and candidate links into PDF files
// on local disk, following e-invoice landing pages when needed.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"invoice-sync-go/internal/models"
)

var (
	// ErrNoDocument is returned when a landing page yields no PDF
	ErrNoDocument = errors.New("no PDF document found on page")
	// ErrUnsupportedContent is returned for responses that are neither PDF nor HTML
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// PageKeywords mark landing-page anchors that may lead to the PDF
var PageKeywords = []string{
	"descargar",
	"pdf",
	"imprimir",
	"download",
	"print",
	"generar pdf",
	"exportar pdf",
	"ver pdf",
}

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,*/*;q=0.8"
	acceptLanguage = "es-ES,es;q=0.8,en-US;q=0.5,en;q=0.3"

	defaultTimeout   = 30 * time.Second
	defaultMaxBytes  = 25 << 20
	defaultRedirects = 10
)

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-. ]`)

// Resolver downloads and stores invoice documents
type Resolver struct {
	dir         string
	client      *resty.Client
	httpClient  *http.Client
	timeout     time.Duration
	maxBytes    int64
	portalHosts []string
	now         func() time.Time
}

// Option customizes a Resolver
type Option func(*Resolver)

// WithHTTPClient sets the transport settings to download with. The client is
// copied, so the caller's value is never modified.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithTimeout bounds every download
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithMaxBytes caps response bodies
func WithMaxBytes(n int64) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithPortalHosts sets the hosts whose ruc/cdc query parameters name the file
func WithPortalHosts(hosts ...string) Option {
	return func(r *Resolver) {
		r.portalHosts = hosts
	}
}

// WithClock overrides the wall clock used for filenames
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Resolver storing documents under dir
func New(dir string, opts ...Option) *Resolver {
	r := &Resolver{
		dir:         dir,
		timeout:     defaultTimeout,
		maxBytes:    defaultMaxBytes,
		portalHosts: []string{"facte.siga.com.py"},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.client = r.newClient()
	return r
}

// newClient builds the browser-like resty client once every option is applied
func (r *Resolver) newClient() *resty.Client {
	client := resty.New()
	if r.httpClient != nil {
		hc := *r.httpClient
		client = resty.NewWithClient(&hc)
	}
	return client.
		SetTimeout(r.timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(defaultRedirects)).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", acceptHeader).
		SetHeader("Accept-Language", acceptLanguage)
}

// Timeout returns the per-download timeout
func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

// Dir returns the storage directory
func (r *Resolver) Dir() string {
	return r.dir
}

// SaveAttachment writes data under a sanitized, timestamp-prefixed name
func (r *Resolver) SaveAttachment(data []byte, filename string) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create pdf dir: %w", err)
	}

	path := filepath.Join(r.dir, r.uniqueName(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	logrus.Infof("PDF saved: %s", path)
	return path, nil
}

// ResolveLink downloads the document behind link. A PDF response is stored
// directly; an HTML response is scanned for anchors that lead to a PDF. On
// error the returned document still carries the provenance of the attempt.
func (r *Resolver) ResolveLink(ctx context.Context, link string) (models.ResolvedDocument, error) {
	logrus.Infof("Resolving document link %s", link)
	attempt := models.ResolvedDocument{Provenance: models.ProvenanceDirectLink, SourceURL: link}

	resp, body, err := r.get(ctx, link)
	if err != nil {
		return attempt, err
	}

	contentType := strings.ToLower(resp.Header().Get("Content-Type"))
	switch {
	case strings.HasPrefix(contentType, "application/pdf"):
		path, err := r.SaveAttachment(body, r.linkFilename(link))
		if err != nil {
			return attempt, err
		}
		attempt.Path = path
		return attempt, nil

	case strings.HasPrefix(contentType, "text/html"):
		return r.scrape(ctx, link, resp.RawResponse.Request.URL, body)

	default:
		logrus.Warnf("Unsupported content type %q from %s", contentType, link)
		return attempt, fmt.Errorf("%s: %w %q", link, ErrUnsupportedContent, contentType)
	}
}

// scrape fetches landing-page candidates in document order and keeps the first PDF
func (r *Resolver) scrape(ctx context.Context, link string, base *url.URL, page []byte) (models.ResolvedDocument, error) {
	attempt := models.ResolvedDocument{Provenance: models.ProvenanceScrapedLink, SourceURL: link}

	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return attempt, fmt.Errorf("parse landing page %s: %w", link, err)
	}

	for _, href := range candidateLinks(doc) {
		target, err := base.Parse(href)
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
			continue
		}
		candidate := target.String()

		resp, body, err := r.get(ctx, candidate)
		if err != nil {
			logrus.Debugf("Candidate %s failed: %v", candidate, err)
			if ctx.Err() != nil {
				return attempt, ctx.Err()
			}
			continue
		}
		contentType := strings.ToLower(resp.Header().Get("Content-Type"))
		if !strings.HasPrefix(contentType, "application/pdf") {
			logrus.Debugf("Candidate %s returned %q, not a PDF", candidate, contentType)
			continue
		}

		logrus.Infof("PDF found on landing page %s at %s", link, candidate)
		path, err := r.SaveAttachment(body, r.linkFilename(candidate))
		if err != nil {
			return attempt, err
		}
		attempt.Path = path
		return attempt, nil
	}

	for _, action := range pdfFormActions(doc) {
		logrus.Infof("Landing page %s has a form that may generate a PDF: %s", link, action)
	}
	logrus.Warnf("No PDF download link found on page %s", link)
	return attempt, fmt.Errorf("%s: %w", link, ErrNoDocument)
}

// get performs a browser-like GET; non-200 responses are errors. The body is
// streamed so the size cap applies before it is buffered.
func (r *Resolver) get(ctx context.Context, link string) (*resty.Response, []byte, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(link)
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", link, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, nil, fmt.Errorf("get %s: unexpected status %d", link, resp.StatusCode())
	}

	body, err := io.ReadAll(io.LimitReader(raw, r.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", link, err)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, nil, fmt.Errorf("get %s: body exceeds %d bytes", link, r.maxBytes)
	}
	return resp, body, nil
}

// linkFilename names a downloaded document. Portal links carrying ruc and
// cdc parameters keep them in the name.
func (r *Resolver) linkFilename(link string) string {
	ts := r.now().Unix()
	if u, err := url.Parse(link); err == nil && r.isPortal(u.Hostname()) {
		q := u.Query()
		ruc, cdc := q.Get("ruc"), q.Get("cdc")
		if ruc != "" && cdc != "" {
			if len(cdc) > 10 {
				cdc = cdc[:10]
			}
			return fmt.Sprintf("factura_siga_%s_%s_%d.pdf", ruc, cdc, ts)
		}
	}
	return fmt.Sprintf("factura_%d.pdf", ts)
}

func (r *Resolver) isPortal(host string) bool {
	for _, h := range r.portalHosts {
		if strings.EqualFold(host, strings.TrimSpace(h)) {
			return true
		}
	}
	return false
}

func (r *Resolver) uniqueName(filename string) string {
	now := r.now()
	return fmt.Sprintf("%s_%06d_%s", now.Format("20060102150405"), now.Nanosecond()/1000, SanitizeFilename(filename))
}

// SanitizeFilename replaces every character outside [A-Za-z0-9_\-. ] with '_'
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "document.pdf"
	}
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

func candidateLinks(doc *html.Node) []string {
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := strings.TrimSpace(attr(n, "href")); href != "" && isPDFCandidate(href, nodeText(n)) {
				links = append(links, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func isPDFCandidate(href, text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, kw := range PageKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	lowerHref := strings.ToLower(href)
	return strings.HasSuffix(lowerHref, ".pdf") || strings.Contains(lowerHref, "pdf")
}

func pdfFormActions(doc *html.Node) []string {
	var actions []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			action := attr(n, "action")
			lower := strings.ToLower(action)
			if strings.Contains(lower, "pdf") || strings.Contains(lower, "print") {
				actions = append(actions, action)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return actions
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
