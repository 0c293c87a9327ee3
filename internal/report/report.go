// Package report renders a session as a shareable document.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/Michdriod/RCA-AI/internal/classify"
	"github.com/Michdriod/RCA-AI/internal/domain"
)

// Format is an export format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = fmt.Errorf("%w: unknown report format", domain.ErrInvalidInput)

// ParseFormat accepts a format name or common alias. Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownFormat, s)
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatYAML:
		return "application/yaml"
	case FormatJSON:
		return "application/json"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Step is one question/answer exchange in a report.
type Step struct {
	Index    int    `json:"index" yaml:"index"`
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer,omitempty" yaml:"answer,omitempty"`
	Tier     string `json:"tier,omitempty" yaml:"tier,omitempty"`
}

// Document is the format-independent report content.
type Document struct {
	SessionID           string     `json:"session_id" yaml:"session_id"`
	Problem             string     `json:"problem" yaml:"problem"`
	Status              string     `json:"status" yaml:"status"`
	CreatedAt           time.Time  `json:"created_at" yaml:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DepthScore          int        `json:"depth_score" yaml:"depth_score"`
	Steps               []Step     `json:"steps" yaml:"steps"`
	RootCause           string     `json:"root_cause,omitempty" yaml:"root_cause,omitempty"`
	ContributingFactors []string   `json:"contributing_factors,omitempty" yaml:"contributing_factors,omitempty"`
}

// Build collects the report content of a session.
func Build(s *domain.Session) Document {
	doc := Document{
		SessionID:   s.ID,
		Problem:     s.Problem,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
		DepthScore:  classify.DepthScore(s.AnswerTexts()),
		Steps:       make([]Step, 0, len(s.Questions)),
	}
	for i, q := range s.Questions {
		st := Step{Index: q.Index, Question: q.Text}
		if i < len(s.Answers) {
			st.Answer = s.Answers[i].Text
			st.Tier = string(s.Answers[i].Tier)
		}
		doc.Steps = append(doc.Steps, st)
	}
	if s.RootCause != nil {
		doc.RootCause = s.RootCause.Summary
		doc.ContributingFactors = s.RootCause.ContributingFactors
	}
	return doc
}

// Write renders the session in format f.
func Write(w io.Writer, s *domain.Session, f Format) error {
	doc := Build(s)
	switch f {
	case FormatMarkdown:
		_, err := w.Write(Markdown(doc))
		return err
	case FormatHTML:
		_, err := w.Write(HTML(doc))
		return err
	case FormatXLSX:
		return XLSX(w, doc)
	case FormatYAML:
		b, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal yaml report: %w", err)
		}
		_, err = w.Write(b)
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return fmt.Errorf("%w %q", ErrUnknownFormat, f)
}

// Markdown renders the report as markdown.
func Markdown(doc Document) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# 5 Whys: %s\n\n", mdEscape(doc.Problem))
	fmt.Fprintf(&b, "- **Session:** `%s`\n", doc.SessionID)
	fmt.Fprintf(&b, "- **Status:** %s\n", doc.Status)
	fmt.Fprintf(&b, "- **Started:** %s\n", doc.CreatedAt.Format(time.RFC3339))
	if doc.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Completed:** %s\n", doc.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- **Depth score:** %d\n\n", doc.DepthScore)

	b.WriteString("## Questions\n\n")
	if len(doc.Steps) == 0 {
		b.WriteString("_No questions yet._\n\n")
	}
	for _, st := range doc.Steps {
		fmt.Fprintf(&b, "%d. **%s**\n", st.Index, mdEscape(st.Question))
		if st.Answer != "" {
			fmt.Fprintf(&b, "   %s _(%s)_\n", mdEscape(st.Answer), strings.ToLower(st.Tier))
		} else {
			b.WriteString("   _Unanswered_\n")
		}
	}
	b.WriteString("\n")

	if doc.RootCause != "" {
		b.WriteString("## Root cause\n\n")
		fmt.Fprintf(&b, "%s\n\n", mdEscape(doc.RootCause))
		if len(doc.ContributingFactors) > 0 {
			b.WriteString("### Contributing factors\n\n")
			for _, f := range doc.ContributingFactors {
				fmt.Fprintf(&b, "- %s\n", mdEscape(f))
			}
			b.WriteString("\n")
		}
	}
	return b.Bytes()
}

// HTML renders the markdown report as a complete HTML page. Raw HTML in
// user text is dropped.
func HTML(doc Document) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	r := html.NewRenderer(html.RendererOptions{
		Title: "5 Whys report",
		Flags: html.CommonFlags | html.SkipHTML | html.CompletePage,
	})
	return markdown.ToHTML(Markdown(doc), p, r)
}

// XLSX writes the report as a workbook with one row per step and a summary sheet.
func XLSX(w io.Writer, doc Document) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Sheet1"
	headers := []string{"Step", "Question", "Answer", "Tier"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, st := range doc.Steps {
		row := []any{st.Index, st.Question, st.Answer, st.Tier}
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	if err := f.SetSheetName(sheet, "Whys"); err != nil {
		return err
	}

	const summary = "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return err
	}
	rows := [][]any{
		{"Session", doc.SessionID},
		{"Problem", doc.Problem},
		{"Status", doc.Status},
		{"Depth score", doc.DepthScore},
		{"Root cause", doc.RootCause},
	}
	for _, factor := range doc.ContributingFactors {
		rows = append(rows, []any{"Contributing factor", factor})
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(summary, cell, v); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx report: %w", err)
	}
	return nil
}

var mdReplacer = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"#", `\#`,
	"<", "&lt;",
	">", "&gt;",
	"\n", " ",
)

func mdEscape(s string) string {
	return mdReplacer.Replace(strings.TrimSpace(s))
}
