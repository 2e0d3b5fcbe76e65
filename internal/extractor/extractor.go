// Package extractor turns raw RFC 822 messages into MailMessage values:
// decoded headers, PDF attachments and candidate invoice links.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	htmlcharset "golang.org/x/net/html/charset"

	"invoice-sync-go/internal/models"
)

// DefaultPortalHosts are e-invoice portals whose links are always candidates
var DefaultPortalHosts = []string{"facte.siga.com.py"}

// DefaultKeywords mark HTML anchors that point at an invoice
var DefaultKeywords = []string{
	"visualizar documento",
	"ver factura",
	"descargar factura",
	"factura electronica",
	"factura electrónica",
	"visualizar",
	"descargar xml",
	"ver documento",
	"view document",
	"download invoice",
}

const defaultPartLimit = 32 << 20

var pdfURLPattern = regexp.MustCompile(`(?i)https?://[^\s<>"']+\.pdf`)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Extractor parses raw messages
type Extractor struct {
	portalPatterns []*regexp.Regexp
	keywords       []string
	partLimit      int64
	decoder        *mime.WordDecoder
}

// Option customizes an Extractor
type Option func(*Extractor)

// WithPortalHosts replaces the e-invoice portal hosts
func WithPortalHosts(hosts ...string) Option {
	return func(e *Extractor) {
		if len(hosts) > 0 {
			e.portalPatterns = portalPatterns(hosts)
		}
	}
}

// WithKeywords replaces the anchor-text keywords
func WithKeywords(keywords ...string) Option {
	return func(e *Extractor) {
		if len(keywords) > 0 {
			e.keywords = lowerAll(keywords)
		}
	}
}

// New creates an Extractor
func New(opts ...Option) *Extractor {
	e := &Extractor{
		portalPatterns: portalPatterns(DefaultPortalHosts),
		keywords:       lowerAll(DefaultKeywords),
		partLimit:      defaultPartLimit,
		decoder:        &mime.WordDecoder{CharsetReader: htmlcharset.NewReaderLabel},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func portalPatterns(hosts []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		patterns = append(patterns, regexp.MustCompile(`(?i)https?://`+regexp.QuoteMeta(host)+`/[^\s<>"']*`))
	}
	return patterns
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// Extract parses raw into a MailMessage. Only a message whose header block
// cannot be read is an error; unreadable parts are logged and skipped, and a
// part in an unknown charset is read undecoded.
func (e *Extractor) Extract(id string, raw []byte) (*models.MailMessage, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !readable(err) {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	if err != nil {
		logrus.Warnf("Message %s: %v, reading body undecoded", id, err)
	}

	header := gomail.Header{Header: entity.Header}
	msg := &models.MailMessage{
		ID:      id,
		Subject: e.subject(&header),
		Sender:  e.sender(&header),
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.Date = &date
	}

	var links []string
	e.walk(id, entity, msg, &links)

	msg.Links = dedupe(links)
	if len(msg.Links) > 0 {
		logrus.WithFields(logrus.Fields{"message": id, "links": msg.Links}).Info("Found candidate invoice links")
	}
	return msg, nil
}

// readable reports whether go-message returned a usable entity alongside err
func readable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

// walk visits the leaves of the MIME tree, collecting PDF attachments and links
func (e *Extractor) walk(id string, entity *gomessage.Entity, msg *models.MailMessage, links *[]string) {
	mr := entity.MultipartReader()
	if mr == nil {
		e.leaf(id, entity, msg, links)
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil && !readable(err) {
			logrus.Warnf("Message %s: failed to read part: %v", id, err)
			return
		}
		if err != nil {
			logrus.Warnf("Message %s: %v, reading part undecoded", id, err)
		}
		e.walk(id, part, msg, links)
	}
}

func (e *Extractor) leaf(id string, part *gomessage.Entity, msg *models.MailMessage, links *[]string) {
	mediaType, _, _ := part.Header.ContentType()
	mediaType = strings.ToLower(mediaType)
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if filename := partFilename(&part.Header); strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		data, err := io.ReadAll(io.LimitReader(part.Body, e.partLimit))
		if err != nil {
			logrus.Warnf("Message %s: failed to read attachment %s: %v", id, filename, err)
			return
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Data:        data,
		})
		return
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return
	}
	body, err := io.ReadAll(io.LimitReader(part.Body, e.partLimit))
	if err != nil {
		logrus.Warnf("Message %s: failed to read %s part: %v", id, mediaType, err)
		return
	}
	*links = append(*links, e.FindLinks(string(body), mediaType == "text/html")...)
}

// FindLinks returns candidate document links found in a text or HTML body
func (e *Extractor) FindLinks(content string, isHTML bool) []string {
	var links []string
	for _, match := range pdfURLPattern.FindAllString(content, -1) {
		links = append(links, html.UnescapeString(match))
	}
	for _, pattern := range e.portalPatterns {
		for _, match := range pattern.FindAllString(content, -1) {
			links = append(links, html.UnescapeString(match))
		}
	}
	if isHTML {
		links = append(links, e.keywordAnchors(content)...)
	}
	return links
}

// keywordAnchors returns absolute hrefs of anchors whose text contains a keyword
func (e *Extractor) keywordAnchors(content string) []string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		logrus.Warnf("Failed to parse HTML body: %v", err)
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := strings.TrimSpace(attr(n, "href"))
			text := strings.ToLower(strings.TrimSpace(nodeText(n)))
			if isAbsoluteHTTP(href) && containsAny(text, e.keywords) {
				links = append(links, href)
				logrus.Debugf("Found invoice anchor %s (text: %q)", href, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func (e *Extractor) subject(h *gomail.Header) string {
	if subject, err := h.Subject(); err == nil {
		return strings.ToValidUTF8(subject, "\uFFFD")
	}
	return e.decodeHeader(h.Get("Subject"))
}

func (e *Extractor) sender(h *gomail.Header) string {
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		addr := list[0]
		if addr.Name != "" {
			return strings.ToValidUTF8(fmt.Sprintf("%s <%s>", addr.Name, addr.Address), "\uFFFD")
		}
		return addr.Address
	}
	return e.decodeHeader(h.Get("From"))
}

func (e *Extractor) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if decoded, err := e.decoder.DecodeHeader(value); err == nil {
		value = decoded
	}
	return strings.ToValidUTF8(value, "\uFFFD")
}

// partFilename prefers the Content-Disposition filename and falls back to the
// Content-Type name parameter.
func partFilename(h *gomessage.Header) string {
	attachment := gomail.AttachmentHeader{Header: *h}
	if name, err := attachment.Filename(); err == nil && name != "" {
		return name
	}
	if _, params, err := h.ContentType(); err == nil {
		if name := params["name"]; name != "" {
			if decoded, err := (&mime.WordDecoder{}).DecodeHeader(name); err == nil {
				return decoded
			}
			return name
		}
	}
	return ""
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

func isAbsoluteHTTP(href string) bool {
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func dedupe(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}
