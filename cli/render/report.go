package render

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/drawscan/types"
)

// Report is the CLI view of a finished session.
type Report struct {
	SessionID    string          `json:"session_id" yaml:"session_id"`
	Endpoint     string          `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Filename     string          `json:"filename,omitempty" yaml:"filename,omitempty"`
	State        string          `json:"state" yaml:"state"`
	Outcome      string          `json:"outcome" yaml:"outcome"`
	Message      string          `json:"message" yaml:"message"`
	ServerErrors []string        `json:"server_errors,omitempty" yaml:"server_errors,omitempty"`
	Records      int64           `json:"records" yaml:"records"`
	BytesRead    int64           `json:"bytes_read" yaml:"bytes_read"`
	DurationMs   int64           `json:"duration_ms" yaml:"duration_ms"`
	ArchivePath  string          `json:"archive_path,omitempty" yaml:"archive_path,omitempty"`
	Result       *types.Snapshot `json:"result" yaml:"result"`
}

// StripImages returns a copy of s without image payloads. Items are copied;
// s is left untouched.
func StripImages(s *types.Snapshot) *types.Snapshot {
	if s == nil {
		return nil
	}
	out := s.Clone()
	out.AnnotatedImage = ""
	out.Items = slices.Clone(s.Items)
	for i := range out.Items {
		item := &out.Items[i]
		item.RawCrop = ""
		item.EnhancedCrop = ""
		if len(item.Data) > 0 {
			data := maps.Clone(item.Data)
			delete(data, "raw_crop")
			delete(data, "enhanced_crop")
			item.Data = data
		}
	}
	return out
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// renderReportTable writes a sectioned, human-readable report.
func (r *Renderer) renderReportTable(rep *Report) error {
	heading := func(s string) string {
		if r.noColor {
			return s
		}
		return headingStyle.Render(s)
	}
	errText := func(s string) string {
		if r.noColor {
			return s
		}
		return errorStyle.Render(s)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, heading("Session"))
	fmt.Fprintf(w, "id:\t%s\n", rep.SessionID)
	if rep.Filename != "" {
		fmt.Fprintf(w, "file:\t%s\n", rep.Filename)
	}
	fmt.Fprintf(w, "state:\t%s\n", rep.State)
	fmt.Fprintf(w, "outcome:\t%s (%s)\n", rep.Outcome, rep.Message)
	fmt.Fprintf(w, "records:\t%d (%d bytes, %d ms)\n", rep.Records, rep.BytesRead, rep.DurationMs)
	if rep.ArchivePath != "" {
		fmt.Fprintf(w, "archive:\t%s\n", rep.ArchivePath)
	}
	for _, msg := range rep.ServerErrors {
		fmt.Fprintf(w, "server error:\t%s\n", errText(msg))
	}

	s := rep.Result
	if s == nil {
		return w.Flush()
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, heading("Result"))
	fmt.Fprintf(w, "status:\t%s\n", s.StatusLine())
	fmt.Fprintf(w, "annotated image:\t%s\n", presence(s.HasAnnotatedImage()))
	if s.Summary != "" {
		fmt.Fprintf(w, "summary:\t%s\n", oneLine(s.Summary))
	}

	if p := s.PageExtraction; p != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, heading("Page extraction"))
		if p.Text != "" {
			fmt.Fprintf(w, "text:\t%s\n", oneLine(p.Text))
		}
		for _, field := range p.Fields() {
			fmt.Fprintf(w, "%s:\t%s\n", field, p.Table[field])
		}
		if p.ExportFile != "" {
			fmt.Fprintf(w, "export file:\t%s\n", p.ExportFile)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, heading(fmt.Sprintf("Items (%d)", len(s.Items))))
	if len(s.Items) == 0 {
		fmt.Fprintln(w, "(no results)")
		return w.Flush()
	}
	fmt.Fprintln(w, "#\tCLASS\tCONFIDENCE\tVLM TEXT")
	for i, item := range s.Items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, item.ClassName, item.ConfidencePercent(), oneLine(item.VLMText))
	}
	return w.Flush()
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "none"
}

// oneLine collapses whitespace runs so multi-line text fits a table cell.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
