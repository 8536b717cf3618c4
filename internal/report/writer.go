package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Format represents the output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts text, json or csv in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// ContentType is the MIME type of a rendered report.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/plain"
	}
}

// Render writes r to w in format f.
func Render(w io.Writer, f Format, r Report) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatCSV:
		return renderCSV(w, r)
	case FormatText:
		return renderText(w, r)
	}
	return fmt.Errorf("unsupported format: %s", f)
}

func renderText(w io.Writer, r Report) error {
	var b strings.Builder
	section := func(title string, list []Entry) {
		fmt.Fprintf(&b, "%s (%d)\n", title, len(list))
		for _, e := range list {
			if e.Country != "" {
				fmt.Fprintf(&b, "  %s [%s]\n", e.Target, e.Country)
			} else {
				fmt.Fprintf(&b, "  %s\n", e.Target)
			}
		}
	}
	fmt.Fprintf(&b, "%s\n\n", r.Subject())
	section("Flagged", r.Flagged)
	b.WriteString("\n")
	section("Banned", r.Banned)
	_, err := io.WriteString(w, b.String())
	return err
}

func renderCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"date", "class", "scope", "target", "country"})
	for _, e := range r.Flagged {
		cw.Write([]string{r.Date, "flagged", string(e.Scope), e.Target, e.Country})
	}
	for _, e := range r.Banned {
		cw.Write([]string{r.Date, "banned", string(e.Scope), e.Target, e.Country})
	}
	cw.Flush()
	return cw.Error()
}
