// Package report renders completed audit sessions into shareable formats.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/auditmesh/consensus/internal/audit"
)

// Format selects the export rendering.
type Format string

// Supported export formats. FormatPDF renders a printable monospace text
// document; actual PDF typesetting is left to downstream tooling.
const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// SessionSource provides the sessions to render. The engine's session
// registry satisfies it.
type SessionSource interface {
	Get(id string) (*audit.Session, error)
}

// Exporter renders audit sessions.
type Exporter struct {
	sessions SessionSource
}

// NewExporter builds an exporter over a session source.
func NewExporter(sessions SessionSource) *Exporter {
	return &Exporter{sessions: sessions}
}

// Export renders one session in the requested format. Unknown sessions
// surface the registry's not-found error; unknown formats are a validation
// failure.
func (e *Exporter) Export(sessionID string, format Format) ([]byte, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return renderJSON(sess)
	case FormatHTML:
		return renderHTML(sess)
	case FormatPDF:
		return renderText(sess)
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", audit.ErrValidation, format)
	}
}

// summary is the aggregate header every format shares. ConsensusScore is
// the mean score of the merged findings; findings without merge metadata
// do not contribute.
type summary struct {
	Total          int
	BySeverity     map[audit.Severity]int
	ConsensusScore float64
}

func summarize(findings []audit.Finding) summary {
	s := summary{Total: len(findings), BySeverity: map[audit.Severity]int{}}
	merged := 0
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		if f.Consensus != nil {
			s.ConsensusScore += f.ConfidenceScore
			merged++
		}
	}
	if merged > 0 {
		s.ConsensusScore /= float64(merged)
	}
	return s
}

// severityOrder lists severities worst first for rendering.
var severityOrder = []audit.Severity{
	audit.SeverityCritical,
	audit.SeverityHigh,
	audit.SeverityMedium,
	audit.SeverityLow,
}

func renderJSON(sess *audit.Session) ([]byte, error) {
	s := summarize(sess.Findings)
	doc := struct {
		GeneratedAt time.Time              `json:"generated_at"`
		Session     *audit.Session         `json:"session"`
		Summary     map[string]interface{} `json:"summary"`
	}{
		GeneratedAt: time.Now().UTC(),
		Session:     sess,
		Summary: map[string]interface{}{
			"total_findings":  s.Total,
			"by_severity":     s.BySeverity,
			"consensus_score": s.ConsensusScore,
		},
	}
	return json.MarshalIndent(doc, "", "  ")
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"location": locationString,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Audit Report {{.Session.ID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; }
.sev-critical { color: #b00020; font-weight: bold; }
.sev-high { color: #d2570b; font-weight: bold; }
.sev-medium { color: #8a6d00; }
.sev-low { color: #555; }
</style>
</head>
<body>
<h1>Security Audit Report</h1>
<p>Session <code>{{.Session.ID}}</code> &mdash; project <code>{{.Session.ProjectID}}</code> &mdash; status {{.Session.Status}}</p>
<p>{{.Summary.Total}} finding(s){{range $sev := .Order}}{{with index $.Summary.BySeverity $sev}}, {{.}} {{$sev}}{{end}}{{end}} &mdash; consensus score {{printf "%.2f" .Summary.ConsensusScore}}</p>
<table>
<tr><th>Severity</th><th>Type</th><th>Location</th><th>Confidence</th><th>Agreement</th></tr>
{{range .Findings}}<tr>
<td class="sev-{{.Severity}}">{{.Severity}}</td>
<td>{{.Type}}</td>
<td>{{location .Location}}</td>
<td>{{printf "%.2f" .ConfidenceScore}}</td>
<td>{{if .Consensus}}{{.Consensus.ModelsAgreed}}/{{.Consensus.TotalModels}}{{else}}&ndash;{{end}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

func renderHTML(sess *audit.Session) ([]byte, error) {
	data := struct {
		Session  *audit.Session
		Findings []audit.Finding
		Summary  summary
		Order    []audit.Severity
	}{
		Session:  sess,
		Findings: sortedFindings(sess.Findings),
		Summary:  summarize(sess.Findings),
		Order:    severityOrder,
	}
	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering html report: %w", err)
	}
	return buf.Bytes(), nil
}

func renderText(sess *audit.Session) ([]byte, error) {
	s := summarize(sess.Findings)
	var b strings.Builder

	rule := strings.Repeat("=", 72)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "SECURITY AUDIT REPORT")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Session:   %s\n", sess.ID)
	fmt.Fprintf(&b, "Project:   %s\n", sess.ProjectID)
	fmt.Fprintf(&b, "Status:    %s\n", sess.Status)
	fmt.Fprintf(&b, "Started:   %s\n", sess.StartedAt.UTC().Format(time.RFC3339))
	if sess.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", sess.CompletedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Consensus: %.2f\n", s.ConsensusScore)
	fmt.Fprintf(&b, "Findings:  %d total", s.Total)
	for _, sev := range severityOrder {
		if n := s.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&b, ", %d %s", n, sev)
		}
	}
	fmt.Fprintln(&b)

	for i, f := range sortedFindings(sess.Findings) {
		fmt.Fprintln(&b, strings.Repeat("-", 72))
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, strings.ToUpper(string(f.Severity)), f.Type)
		fmt.Fprintf(&b, "   Location:   %s\n", locationString(f.Location))
		fmt.Fprintf(&b, "   Confidence: %.2f\n", f.ConfidenceScore)
		if f.Consensus != nil {
			fmt.Fprintf(&b, "   Agreement:  %d of %d reviewers (ratio %.2f)\n",
				f.Consensus.ModelsAgreed, f.Consensus.TotalModels, f.Consensus.AgreementRatio)
		}
		for _, ev := range f.Evidence {
			fmt.Fprintf(&b, "   - %s\n", ev)
		}
	}
	fmt.Fprintln(&b, rule)
	return []byte(b.String()), nil
}

// sortedFindings orders worst severity first, then by confidence, then by
// type for a stable report layout.
func sortedFindings(findings []audit.Finding) []audit.Finding {
	out := make([]audit.Finding, len(findings))
	copy(out, findings)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func locationString(loc *audit.Location) string {
	if loc == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", loc.File, loc.Line)
}
