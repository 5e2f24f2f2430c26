package projector

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
)

// Formatter renders numbers and labels for one locale.
type Formatter struct {
	tag     language.Tag
	printer *message.Printer
	title   cases.Caser
}

// NewFormatter builds a formatter for a BCP 47 locale. Empty or invalid
// locales fall back to English.
func NewFormatter(locale string) *Formatter {
	tag := language.English
	if locale != "" {
		if t, err := language.Parse(locale); err == nil {
			tag = t
		}
	}
	return &Formatter{
		tag:     tag,
		printer: message.NewPrinter(tag),
		title:   cases.Title(tag),
	}
}

// Locale returns the formatter's language tag.
func (f *Formatter) Locale() string { return f.tag.String() }

// Users renders a user count with thousands grouping.
func (f *Formatter) Users(n int) string {
	return f.printer.Sprintf("%d", n)
}

// OptionalUsers renders a possibly unknown user count.
func (f *Formatter) OptionalUsers(n *int) string {
	if n == nil {
		return "unknown"
	}
	return f.Users(*n)
}

// Plain renders an integer as bare digits.
func (f *Formatter) Plain(n int) string {
	return strconv.Itoa(n)
}

// Severity title-cases a severity label.
func (f *Formatter) Severity(s model.Severity) string {
	v := strings.TrimSpace(string(s))
	if v == "" {
		v = string(model.SeverityUnknown)
	}
	return f.title.String(strings.ToLower(v))
}
