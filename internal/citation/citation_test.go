package citation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/fieldchat/internal/models"
)

func cites(paths ...string) []models.Citation {
	out := make([]models.Citation, len(paths))
	for i, p := range paths {
		out[i] = models.Citation{FilePath: p}
	}
	return out
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		cites []models.Citation
		want  []Segment
	}{
		{
			name: "no markers",
			body: "torque to 31.3 Nm",
			want: []Segment{{Text: "torque to 31.3 Nm"}},
		},
		{
			name:  "single marker",
			body:  "[doc1]",
			cites: cites("http://example.com"),
			want:  []Segment{{Index: 1, Path: "http://example.com"}},
		},
		{
			name:  "text around markers",
			body:  "See [doc2] and [doc1].",
			cites: cites("a.pdf", "b.pdf"),
			want: []Segment{
				{Text: "See "},
				{Index: 2, Path: "b.pdf"},
				{Text: " and "},
				{Index: 1, Path: "a.pdf"},
				{Text: "."},
			},
		},
		{
			name:  "unterminated marker keeps trailing text",
			body:  "ok [doc1] then [doc2 without close",
			cites: cites("a.pdf", "b.pdf"),
			want: []Segment{
				{Text: "ok "},
				{Index: 1, Path: "a.pdf"},
				{Text: " then [doc2 without close"},
			},
		},
		{
			name:  "out of range index passes through",
			body:  "x [doc3] y",
			cites: cites("a.pdf"),
			want:  []Segment{{Text: "x [doc3] y"}},
		},
		{
			name:  "zero index passes through",
			body:  "[doc0]",
			cites: cites("a.pdf"),
			want:  []Segment{{Text: "[doc0]"}},
		},
		{
			name:  "non digit body passes through",
			body:  "[docs] [doc1]",
			cites: cites("a.pdf"),
			want: []Segment{
				{Text: "[docs] "},
				{Index: 1, Path: "a.pdf"},
			},
		},
		{
			name:  "nested prefix still resolves inner marker",
			body:  "[doc[doc1]",
			cites: cites("a.pdf"),
			want: []Segment{
				{Text: "[doc"},
				{Index: 1, Path: "a.pdf"},
			},
		},
		{
			name:  "adjacent markers",
			body:  "[doc1][doc1]",
			cites: cites("a.pdf"),
			want: []Segment{
				{Index: 1, Path: "a.pdf"},
				{Index: 1, Path: "a.pdf"},
			},
		},
		{
			name: "empty body",
			body: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.body, tt.cites)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.body, diff)
			}
		})
	}
}

func TestRender_Markdown(t *testing.T) {
	got := Render("Rated 31.3kW [doc1].", cites("http://doc"), Markdown)
	want := "Rated 31.3kW [1](<http://doc>)."
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRender_HTMLEscapesText(t *testing.T) {
	got := Render("i love syseng <3 [doc1]", cites(`http://x/?a=1&b="2"`), HTML)
	if !strings.HasPrefix(got, "i love syseng &lt;3 ") {
		t.Errorf("text not escaped: %q", got)
	}
	if !strings.Contains(got, `href="http://x/?a=1&amp;b=&#34;2&#34;"`) {
		t.Errorf("href not escaped: %q", got)
	}
	if !strings.HasSuffix(got, ">[1]</a>") {
		t.Errorf("missing anchor label: %q", got)
	}
}

func TestRender_Idempotent(t *testing.T) {
	c := cites("a.pdf", "b.pdf")
	for _, f := range []Format{Markdown, HTML} {
		once := Render("see [doc1] and [doc2]", c, f)
		for _, s := range Parse(once, c) {
			if s.IsLink() {
				t.Errorf("format %d: rendered output still holds a marker: %q", f, once)
			}
		}
	}
	once := Render("see [doc1] and [doc2]", c, Markdown)
	if twice := Render(once, c, Markdown); once != twice {
		t.Errorf("markdown render not idempotent: %q vs %q", once, twice)
	}
}

func TestRender_RoundTrip(t *testing.T) {
	paths := []string{"manuals/pump.pdf", "http://doc", "specs/a (rev 2).pdf"}
	c := cites(paths...)
	bodies := []string{
		"[doc1]",
		"start [doc3] middle [doc2] end [doc1]",
		"no markers at all",
		"[doc2][doc2] trailing [doc9 unterminated",
		"odd [docx] and [doc4] stay put, [doc3] resolves",
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			rendered := Render(body, c, Markdown)
			restored, got := Strip(rendered)
			if restored != body {
				t.Errorf("Strip(Render(%q)) = %q", body, restored)
			}
			var want []string
			for _, s := range Parse(body, c) {
				if s.IsLink() {
					want = append(want, paths[s.Index-1])
				}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("paths mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRender_ManyMarkers(t *testing.T) {
	var body strings.Builder
	var paths []string
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&body, "p%d[doc%d] ", i, i)
		paths = append(paths, fmt.Sprintf("doc-%d.pdf", i))
	}
	rendered := Render(body.String(), cites(paths...), Markdown)
	_, got := Strip(rendered)
	if diff := cmp.Diff(paths, got); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}
