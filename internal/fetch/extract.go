package fetch

import (
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

const (
	maxTextBytes = 20000
	maxLinks     = 100
)

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Tr: true, atom.Td: true, atom.Th: true,
}

// Extract parses an HTML document. Relative links are resolved against base,
// which may be nil.
func Extract(r io.Reader, base *url.URL) (*models.PageContent, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	e := &extractor{
		base:     base,
		seen:     make(map[string]bool),
		metadata: make(map[string]string),
	}
	e.walk(doc)

	return &models.PageContent{
		Title:    collapseSpace(e.title.String()),
		Text:     truncate(collapseSpace(e.text.String()), maxTextBytes),
		Links:    e.links,
		Metadata: e.metadata,
	}, nil
}

type extractor struct {
	base     *url.URL
	title    strings.Builder
	text     strings.Builder
	links    []string
	seen     map[string]bool
	metadata map[string]string
}

func (e *extractor) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if skippedElements[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.Title:
			if e.title.Len() == 0 {
				e.title.WriteString(textContent(n))
			}
			return
		case atom.Meta:
			e.addMeta(n)
		case atom.A:
			e.addLink(attr(n, "href"))
		}
		if blockElements[n.DataAtom] {
			e.text.WriteByte('\n')
		}
	}
	if n.Type == html.TextNode {
		e.text.WriteString(n.Data)
		e.text.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}
}

func (e *extractor) addMeta(n *html.Node) {
	key := strings.ToLower(strings.TrimSpace(attr(n, "name")))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(attr(n, "property")))
	}
	content := collapseSpace(attr(n, "content"))
	if key == "" || content == "" {
		return
	}
	if _, ok := e.metadata[key]; !ok {
		e.metadata[key] = content
	}
}

func (e *extractor) addLink(href string) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || len(e.links) >= maxLinks {
		return
	}
	u, err := url.Parse(href)
	if err != nil {
		return
	}
	if e.base != nil {
		u = e.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return
	}
	u.Fragment = ""
	s := u.String()
	if e.seen[s] {
		return
	}
	e.seen[s] = true
	e.links = append(e.links, s)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
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

// collapseSpace joins whitespace runs within a line into one space and drops
// blank lines.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
