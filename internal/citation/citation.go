// Package citation resolves inline [docN] markers in bot answers against the
// message's citation list.
package citation

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/zulandar/fieldchat/internal/models"
)

const markerPrefix = "[doc"

// Segment is either a run of verbatim text or a resolved citation.
type Segment struct {
	Text string `json:"text,omitempty"`
	// Index is the 1-based citation number; zero for plain text.
	Index int    `json:"index,omitempty"`
	Path  string `json:"path,omitempty"`
}

// IsLink reports whether the segment is a resolved citation.
func (s Segment) IsLink() bool {
	return s.Index > 0
}

// Parse splits body into text and citation segments, scanning left to right.
// A marker resolves only when its digits name an entry of cites. Markers that
// do not resolve stay in the text unchanged; an unterminated marker leaves the
// rest of the body as text.
func Parse(body string, cites []models.Citation) []Segment {
	var (
		segs []Segment
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			segs = append(segs, Segment{Text: text.String()})
			text.Reset()
		}
	}

	rest := body
	for {
		i := strings.Index(rest, markerPrefix)
		if i < 0 {
			text.WriteString(rest)
			break
		}
		text.WriteString(rest[:i])
		after := rest[i+len(markerPrefix):]
		end := strings.IndexByte(after, ']')
		if end < 0 {
			text.WriteString(rest[i:])
			break
		}
		n, ok := parseIndex(after[:end])
		if !ok || n > len(cites) {
			// Emit only the prefix so a real marker nested after it still resolves.
			text.WriteString(markerPrefix)
			rest = after
			continue
		}
		flush()
		segs = append(segs, Segment{Index: n, Path: cites[n-1].FilePath})
		rest = after[end+1:]
	}
	flush()
	return segs
}

func parseIndex(digits string) (int, bool) {
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Format selects the rendering target.
type Format int

const (
	Markdown Format = iota
	HTML
)

// Render substitutes hyperlinks for every resolvable marker in body. Link
// labels never contain a marker, so rendering rendered output is a no-op.
func Render(body string, cites []models.Citation, f Format) string {
	var b strings.Builder
	for _, s := range Parse(body, cites) {
		switch {
		case !s.IsLink() && f == HTML:
			b.WriteString(html.EscapeString(s.Text))
		case !s.IsLink():
			b.WriteString(s.Text)
		case f == HTML:
			b.WriteString(`<a href="`)
			b.WriteString(html.EscapeString(s.Path))
			b.WriteString(`" target="_blank" rel="noopener noreferrer">[`)
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteString(`]</a>`)
		default:
			b.WriteString("[")
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteString("](<")
			b.WriteString(s.Path)
			b.WriteString(">)")
		}
	}
	return b.String()
}

var markdownLink = regexp.MustCompile(`\[(\d+)\]\(<([^>]*)>\)`)

// Strip reverses a Markdown Render: every link becomes its [docN] marker
// again. It returns the restored body and the link targets in order.
func Strip(rendered string) (string, []string) {
	var paths []string
	body := markdownLink.ReplaceAllStringFunc(rendered, func(m string) string {
		sub := markdownLink.FindStringSubmatch(m)
		paths = append(paths, sub[2])
		return markerPrefix + sub[1] + "]"
	})
	return body, paths
}
