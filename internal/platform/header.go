package platform

import (
	"io"
	"os"
	"regexp"
	"strings"
)

// headerReadLimit is how much of a file is scanned for the plugin header
const headerReadLimit = 8 * 1024

var headerFields = map[string]string{
	"Name":        "Plugin Name",
	"PluginURI":   "Plugin URI",
	"Version":     "Version",
	"Description": "Description",
	"Author":      "Author",
	"TextDomain":  "Text Domain",
}

var headerPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(headerFields))
	for field, label := range headerFields {
		patterns[field] = regexp.MustCompile(`(?mi)^(?:[ \t]*<\?php)?[ \t/*#@]*` + regexp.QuoteMeta(label) + `:(.*)$`)
	}
	return patterns
}()

var closingComment = regexp.MustCompile(`\s*(?:\*/|\?>).*$`)

// ParseHeader reads the plugin header comment from r. ok is false when the
// content has no "Plugin Name" field.
func ParseHeader(r io.Reader) (Plugin, bool) {
	buf, err := io.ReadAll(io.LimitReader(r, headerReadLimit))
	if err != nil && len(buf) == 0 {
		return Plugin{}, false
	}
	content := strings.ReplaceAll(string(buf), "\r", "\n")

	values := make(map[string]string, len(headerPatterns))
	for field, re := range headerPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			values[field] = strings.TrimSpace(closingComment.ReplaceAllString(m[1], ""))
		}
	}

	p := Plugin{
		Name:        values["Name"],
		PluginURI:   values["PluginURI"],
		Version:     values["Version"],
		Description: values["Description"],
		Author:      values["Author"],
		TextDomain:  values["TextDomain"],
	}
	return p, p.Name != ""
}

func readHeader(path string) (Plugin, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Plugin{}, false
	}
	defer func() { _ = f.Close() }()
	return ParseHeader(f)
}
