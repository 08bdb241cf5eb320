// Package render prints API results for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/blog-client/blogapi"
)

// Output formats accepted by Value.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const (
	defaultLocaleLabel = "English"
	noImageLabel       = "No Image"
	previewLen         = 150
)

// Formats lists the accepted output formats.
var Formats = []string{FormatText, FormatJSON, FormatYAML}

// ValidFormat reports whether f is one of Formats.
func ValidFormat(f string) bool {
	switch f {
	case FormatText, FormatJSON, FormatYAML:
		return true
	}

	return false
}

// LocaleLabel turns a locale tag such as "fr" into its English name.
// Empty locales read as English; tags x/text cannot name are shown as is.
func LocaleLabel(locale string) string {
	if locale == "" {
		return defaultLocaleLabel
	}

	tag, err := language.Parse(locale)
	if err != nil {
		return locale
	}

	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}

	return locale
}

// Preview is the card summary: the abstract when there is one, otherwise
// the first 150 characters of the body followed by "...".
func Preview(p blogapi.Post) string {
	if p.Abstract != "" {
		return p.Abstract
	}

	body := []rune(p.Body)
	if len(body) > previewLen {
		body = body[:previewLen]
	}

	return string(body) + "..."
}

// publishedDate formats an RFC 3339 timestamp as a date, falling back to the
// raw value.
func publishedDate(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}

	return t.Format("2006-01-02")
}

// PostCards writes one card per post.
func PostCards(w io.Writer, posts []blogapi.Post) error {
	var b strings.Builder

	for i, p := range posts {
		if i > 0 {
			b.WriteString("\n")
		}

		image := p.ImageURL
		if image == "" {
			image = noImageLabel
		}

		fmt.Fprintf(&b, "%s [%s]\n", p.Title, LocaleLabel(p.Locale))
		fmt.Fprintf(&b, "  %s\n", image)
		fmt.Fprintf(&b, "  Published %s • @%s\n", publishedDate(p.CreatedAt), p.AuthorUsername)
		fmt.Fprintf(&b, "  %s\n", Preview(p))
	}

	_, err := io.WriteString(w, b.String())

	return err
}

// Value writes v as JSON or YAML. For text, Stringer values and strings are
// printed directly and anything else falls back to YAML.
func Value(w io.Writer, format string, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case FormatYAML:
		return encodeYAML(w, v)
	case FormatText, "":
		switch t := v.(type) {
		case string:
			_, err := fmt.Fprintln(w, t)
			return err
		case fmt.Stringer:
			_, err := fmt.Fprintln(w, t.String())
			return err
		}

		return encodeYAML(w, v)
	}

	return fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// encodeYAML round-trips v through JSON so the json tags on API types decide
// the field names.
func encodeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}

	return enc.Close()
}
