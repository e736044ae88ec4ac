package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Render writes r in format f.
func Render(w io.Writer, r Report, f Format) error {
	switch f {
	case FormatText:
		return renderText(w, r)

	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(r)

	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(r))
		return err

	case FormatHTML:
		return renderHTML(w, r)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// HaltBanner is the one-line halt status. A halted banner always starts
// with HALTED so scripts can match on one word.
func HaltBanner(h Halt) string {
	if !h.Halted {
		if h.ResumeCyclesRemaining > 0 {
			return fmt.Sprintf("Running (reduced volume for %d "+
				"more cycle(s))", h.ResumeCyclesRemaining)
		}

		return "Running"
	}

	banner := "HALTED: EMERGENCY HALT ACTIVE"
	if h.Reason != "" {
		banner += ": " + h.Reason
	}

	return banner
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}

func renderText(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Status:\t%s\n", HaltBanner(r.Halt))
	if r.Halt.Halted {
		fmt.Fprintf(tw, "  Source:\t%s\n", r.Halt.Source)
		fmt.Fprintf(tw, "  Since:\t%s\n",
			r.Halt.Since.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "  Sentinel:\t%s\n", r.Halt.Location)

	b := r.Budget
	fmt.Fprintf(tw, "API budget %s:\t%d/%d used, %d remaining (%s)\n",
		b.Month, b.Used, b.Limit, b.Remaining, b.Phase)

	s := r.Summary
	fmt.Fprintf(tw, "Window:\t%d day(s) from %s\n", r.Days,
		s.From.Format(time.DateOnly))
	fmt.Fprintf(tw, "Dispatches:\t%d (%d sent, %d unfinished, "+
		"%.0f%% success)\n", s.Total, s.Sent(), s.Unfinished,
		s.SuccessRate()*100)

	for _, outcome := range sortedKeys(s.Outcomes) {
		fmt.Fprintf(tw, "  %s\t%d\n", outcome, s.Outcomes[outcome])
	}
	if len(s.SentByKind) > 0 {
		fmt.Fprintln(tw, "Sent by kind:\t")
		for _, kind := range sortedKeys(s.SentByKind) {
			fmt.Fprintf(tw, "  %s\t%d\n", kind, s.SentByKind[kind])
		}
	}
	if len(s.SentByAccount) > 0 {
		fmt.Fprintln(tw, "Sent by account:\t")
		for _, id := range sortedKeys(s.SentByAccount) {
			fmt.Fprintf(tw, "  %s\t%d\n", id, s.SentByAccount[id])
		}
	}
	if len(s.ErrorClasses) > 0 {
		fmt.Fprintln(tw, "Errors:\t")
		for _, class := range sortedKeys(s.ErrorClasses) {
			fmt.Fprintf(tw, "  %s\t%d\n", class,
				s.ErrorClasses[class])
		}
	}

	return tw.Flush()
}

// Markdown renders r as a markdown document.
func Markdown(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Outreach report\n\n")
	fmt.Fprintf(&b, "Generated %s, covering %d day(s).\n\n",
		r.GeneratedAt.Format(time.RFC3339), r.Days)

	fmt.Fprintf(&b, "## Status\n\n**%s**", HaltBanner(r.Halt))
	if r.Halt.Halted {
		fmt.Fprintf(&b, " (source `%s`, since %s)", r.Halt.Source,
			r.Halt.Since.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\n\n")

	bud := r.Budget
	fmt.Fprintf(&b, "## API budget\n\n")
	fmt.Fprintf(&b, "| Month | Used | Limit | Remaining | Phase |\n")
	fmt.Fprintf(&b, "|---|---:|---:|---:|---|\n")
	fmt.Fprintf(&b, "| %s | %d | %d | %d | %s |\n\n", bud.Month,
		bud.Used, bud.Limit, bud.Remaining, bud.Phase)

	s := r.Summary
	fmt.Fprintf(&b, "## Activity\n\n")
	fmt.Fprintf(&b, "%d dispatches, %d sent, %.0f%% success.\n\n",
		s.Total, s.Sent(), s.SuccessRate()*100)

	if len(s.Days) > 0 {
		fmt.Fprintf(&b, "| Day | Dispatches | Sent |\n")
		fmt.Fprintf(&b, "|---|---:|---:|\n")
		for _, d := range s.Days {
			fmt.Fprintf(&b, "| %s | %d | %d |\n", d.Day, d.Total,
				d.Sent)
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(s.SentByKind) > 0 {
		fmt.Fprintf(&b, "| Kind | Sent |\n|---|---:|\n")
		for _, kind := range sortedKeys(s.SentByKind) {
			fmt.Fprintf(&b, "| %s | %d |\n", kind,
				s.SentByKind[kind])
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(s.ErrorClasses) > 0 {
		fmt.Fprintf(&b, "| Error class | Count |\n|---|---:|\n")
		for _, class := range sortedKeys(s.ErrorClasses) {
			fmt.Fprintf(&b, "| %s | %d |\n", class,
				s.ErrorClasses[class])
		}
		fmt.Fprintf(&b, "\n")
	}

	return b.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

func renderHTML(w io.Writer, r Report) error {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(Markdown(r)), &body); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}

	title := html.EscapeString("Outreach report " +
		r.GeneratedAt.Format(time.DateOnly))

	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head>"+
		"<meta charset=\"utf-8\"><title>%s</title></head>\n"+
		"<body>\n%s</body></html>\n", title, body.String())

	return err
}
