package content

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Built-in extractors for common attachment types.
//
// Text formats are read as-is. HTML is tokenized and reduced to its
// visible text.
var (
	// Plain extracts text/plain attachments.
	Plain Extractor = textExtractor{ct: "text/plain"}

	// CSV extracts text/csv attachments.
	CSV Extractor = textExtractor{ct: "text/csv"}

	// Calendar extracts text/calendar (ICS) attachments as raw text.
	Calendar Extractor = textExtractor{ct: "text/calendar"}

	// JSON extracts application/json attachments.
	JSON Extractor = textExtractor{ct: "application/json"}

	// XML extracts application/xml attachments.
	XML Extractor = textExtractor{ct: "application/xml"}

	// TextXML extracts text/xml attachments.
	TextXML Extractor = textExtractor{ct: "text/xml"}

	// HTML extracts the visible text of text/html attachments.
	HTML Extractor = htmlExtractor{}
)

// DefaultRegistry returns a registry pre-loaded with all built-in extractors.
func DefaultRegistry() *Registry {
	return NewRegistry(Plain, CSV, Calendar, JSON, XML, TextXML, HTML)
}

// textExtractor passes text-safe content through unchanged.
type textExtractor struct {
	ct string
}

func (e textExtractor) ContentType() string { return e.ct }

func (e textExtractor) Extract(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// htmlExtractor keeps text nodes outside script and style elements.
type htmlExtractor struct{}

func (htmlExtractor) ContentType() string { return "text/html" }

func (htmlExtractor) Extract(r io.Reader) (string, error) {
	return htmlToText(r)
}

// htmlToText returns the visible text of an HTML document, one text run per line.
func htmlToText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return strings.TrimSpace(b.String()), nil
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenElement(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenElement(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(text)
		}
	}
}

func isHiddenElement(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}
