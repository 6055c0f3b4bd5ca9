package hub

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Open-WP-Club/plugin-hub/internal/github"
	"github.com/Open-WP-Club/plugin-hub/internal/version"
)

// changelogRenderer turns release notes into sanitized HTML
type changelogRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

func newChangelogRenderer() *changelogRenderer {
	return &changelogRenderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   bluemonday.UGCPolicy(),
	}
}

// Render concatenates the notes of every published release with
// current < version <= next, in the order the API returned them.
func (r *changelogRenderer) Render(releases []github.Release, current, next string) string {
	var out strings.Builder
	for _, rel := range releases {
		if rel.Draft {
			continue
		}
		v := rel.Version()
		if !version.InRange(v, current, next) {
			continue
		}
		out.WriteString("<h4>Version ")
		out.WriteString(html.EscapeString(v))
		out.WriteString("</h4>")
		out.WriteString(r.body(rel.Body))
	}
	return out.String()
}

func (r *changelogRenderer) body(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(src), &buf); err != nil {
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return string(r.policy.SanitizeBytes(buf.Bytes()))
}
