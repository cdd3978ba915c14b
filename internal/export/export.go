// Package export renders a chat session as a downloadable document.
package export

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/model"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// UserLabel heads user turns; every other role is labelled with the AI name.
const UserLabel = "You"

const createdLayout = "Jan 2, 2006, 3:04:05 PM MST"

var formats = map[Format]struct {
	ext  string
	mime string
}{
	FormatMarkdown: {ext: "md", mime: "text/markdown"},
	FormatText:     {ext: "txt", mime: "text/plain"},
	FormatJSON:     {ext: "json", mime: "application/json"},
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9]`)

// ParseFormat accepts the format names and the usual file extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md", "":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", apperrors.ErrValidation, s)
}

// Document is an exported session ready to be served as a download.
type Document struct {
	Filename string
	MIMEType string
	Content  []byte
}

// Export renders sess in format. aiName labels assistant turns and now dates
// the filename.
func Export(sess model.ChatSession, format Format, aiName string, now time.Time) (Document, error) {
	meta, ok := formats[format]
	if !ok {
		return Document{}, fmt.Errorf("%w: unknown export format %q", apperrors.ErrValidation, format)
	}

	var content []byte
	switch format {
	case FormatMarkdown:
		content = []byte(Markdown(sess, aiName))
	case FormatText:
		content = []byte(Text(sess, aiName))
	case FormatJSON:
		b, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return Document{}, fmt.Errorf("could not encode session: %w", err)
		}
		content = b
	}
	return Document{
		Filename: Filename(sess.Title, now, meta.ext),
		MIMEType: meta.mime,
		Content:  content,
	}, nil
}

// Filename builds "<safe_title>_<YYYY-MM-DD>.<ext>" where every character of
// the lowercased title outside [a-z0-9] becomes an underscore.
func Filename(title string, now time.Time, ext string) string {
	safe := unsafeFilenameChars.ReplaceAllString(strings.ToLower(title), "_")
	return fmt.Sprintf("%s_%s.%s", safe, now.UTC().Format(time.DateOnly), ext)
}

func label(role model.Role, aiName string) string {
	if role == model.RoleUser {
		return UserLabel
	}
	return aiName
}

func Markdown(sess model.ChatSession, aiName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	fmt.Fprintf(&b, "*Created: %s*\n\n", sess.CreatedAt.Format(createdLayout))
	b.WriteString("---\n\n")
	for _, m := range sess.Messages {
		fmt.Fprintf(&b, "### %s\n\n", label(m.Role, aiName))
		fmt.Fprintf(&b, "%s\n\n", m.Content)
		if n := len(m.Images); n > 0 {
			fmt.Fprintf(&b, "*[%d image(s) attached]*\n\n", n)
		}
		b.WriteString("---\n\n")
	}
	return b.String()
}

func Text(sess model.ChatSession, aiName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", sess.Title)
	fmt.Fprintf(&b, "Created: %s\n", sess.CreatedAt.Format(createdLayout))
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	for _, m := range sess.Messages {
		fmt.Fprintf(&b, "%s:\n%s\n\n", label(m.Role, aiName), m.Content)
		if n := len(m.Images); n > 0 {
			fmt.Fprintf(&b, "[%d image(s) attached]\n\n", n)
		}
		b.WriteString(strings.Repeat("-", 50) + "\n\n")
	}
	return b.String()
}
