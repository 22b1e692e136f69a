package reviewer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/auditmesh/consensus/internal/audit"
)

// signature is one entry in the offline vulnerability table. Confidence is
// deliberately low: these findings come from pattern matching, not analysis.
type signature struct {
	Name                 string
	Pattern              *regexp.Regexp
	Type                 string
	Severity             audit.Severity
	Confidence           float64
	RiskCategories       []string
	ComplianceViolations []string
	Description          string
}

func initSignatures() []signature {
	return []signature{
		{
			Name:           "SQL Injection - String Concatenation",
			Pattern:        regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE|DROP)\s+.*(\+\s*["']?\w+|\$\{|%s|f["'])`),
			Type:           "sql_injection",
			Severity:       audit.SeverityCritical,
			Confidence:     0.55,
			RiskCategories: []string{"injection"},
			ComplianceViolations: []string{"CWE-89", "OWASP-A03:2021"},
			Description:    "SQL query built from dynamic input",
		},
		{
			Name:           "Command Injection",
			Pattern:        regexp.MustCompile(`(?i)(exec|system|popen|subprocess\.(call|run)|os\.system|shell_exec)\s*\([^)]*(\+|\$\{|%s)`),
			Type:           "command_injection",
			Severity:       audit.SeverityCritical,
			Confidence:     0.5,
			RiskCategories: []string{"injection"},
			ComplianceViolations: []string{"CWE-78", "OWASP-A03:2021"},
			Description:    "Command execution with dynamic input",
		},
		{
			Name:           "Cross-Site Scripting - innerHTML",
			Pattern:        regexp.MustCompile(`\.innerHTML\s*=|document\.write\s*\(|dangerouslySetInnerHTML`),
			Type:           "xss",
			Severity:       audit.SeverityHigh,
			Confidence:     0.45,
			RiskCategories: []string{"injection", "client_side"},
			ComplianceViolations: []string{"CWE-79", "OWASP-A03:2021"},
			Description:    "Dynamic HTML insertion without sanitization",
		},
		{
			Name:           "Hardcoded Credentials",
			Pattern:        regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|access_token)\s*[:=]\s*["'][^"']{8,}["']`),
			Type:           "hardcoded_credentials",
			Severity:       audit.SeverityHigh,
			Confidence:     0.5,
			RiskCategories: []string{"secrets", "data_exposure"},
			ComplianceViolations: []string{"CWE-798", "OWASP-A07:2021"},
			Description:    "Credential material embedded in source",
		},
		{
			Name:           "Path Traversal",
			Pattern:        regexp.MustCompile(`(?i)(os\.Open|os\.ReadFile|ioutil\.ReadFile|open\(|fopen|file_get_contents)\s*\([^)]*(\+|%s|f["'])`),
			Type:           "path_traversal",
			Severity:       audit.SeverityHigh,
			Confidence:     0.4,
			RiskCategories: []string{"file_access"},
			ComplianceViolations: []string{"CWE-22", "OWASP-A01:2021"},
			Description:    "File path built from unvalidated input",
		},
		{
			Name:           "Server-Side Request Forgery",
			Pattern:        regexp.MustCompile(`(?i)(http\.Get|http\.Post|requests\.(get|post)|fetch|axios)\s*\([^)]*(\+|%s|f["']|\$\{)`),
			Type:           "ssrf",
			Severity:       audit.SeverityHigh,
			Confidence:     0.4,
			RiskCategories: []string{"network"},
			ComplianceViolations: []string{"CWE-918", "OWASP-A10:2021"},
			Description:    "Outbound request URL built from dynamic input",
		},
		{
			Name:           "Weak Cryptographic Hash",
			Pattern:        regexp.MustCompile(`(?i)\b(md5|sha1)\s*[.(]`),
			Type:           "weak_crypto",
			Severity:       audit.SeverityMedium,
			Confidence:     0.45,
			RiskCategories: []string{"cryptography"},
			ComplianceViolations: []string{"CWE-327", "OWASP-A02:2021"},
			Description:    "Collision-prone hash used",
		},
		{
			Name:           "Insecure TLS Configuration",
			Pattern:        regexp.MustCompile(`InsecureSkipVerify\s*:\s*true|verify\s*=\s*False|rejectUnauthorized\s*:\s*false`),
			Type:           "insecure_tls",
			Severity:       audit.SeverityHigh,
			Confidence:     0.55,
			RiskCategories: []string{"transport_security"},
			ComplianceViolations: []string{"CWE-295", "OWASP-A07:2021"},
			Description:    "TLS certificate verification disabled",
		},
		{
			Name:           "Dynamic Code Evaluation",
			Pattern:        regexp.MustCompile(`(?i)\beval\s*\(|pickle\.loads?\s*\(`),
			Type:           "code_injection",
			Severity:       audit.SeverityCritical,
			Confidence:     0.5,
			RiskCategories: []string{"injection"},
			ComplianceViolations: []string{"CWE-94", "OWASP-A08:2021"},
			Description:    "Dynamic evaluation of untrusted data",
		},
		{
			Name:           "Insecure Randomness",
			Pattern:        regexp.MustCompile(`math/rand|Math\.random\s*\(`),
			Type:           "insecure_random",
			Severity:       audit.SeverityMedium,
			Confidence:     0.35,
			RiskCategories: []string{"cryptography"},
			ComplianceViolations: []string{"CWE-330", "OWASP-A02:2021"},
			Description:    "Non-cryptographic randomness in use",
		},
	}
}

// HeuristicScanner is the offline fallback tier: a pure, deterministic
// pattern pass over the audit input so a reviewer whose remote call failed
// can still contribute a best-effort result.
type HeuristicScanner struct {
	signatures []signature
}

// NewHeuristicScanner creates a scanner with the built-in signature table.
func NewHeuristicScanner() *HeuristicScanner {
	return &HeuristicScanner{signatures: initSignatures()}
}

// Scan runs every signature over the request's codebase. Findings come out
// in signature-table order, then match order, so repeated runs are
// identical.
func (s *HeuristicScanner) Scan(req *audit.Request) []audit.Finding {
	file := "codebase"
	if len(req.Targets) > 0 {
		file = req.Targets[0]
	}

	var findings []audit.Finding
	for _, sig := range s.signatures {
		matches := sig.Pattern.FindAllStringIndex(req.Codebase, -1)
		for _, match := range matches {
			line := lineOf(req.Codebase, match[0])
			snippet := strings.TrimSpace(lineText(req.Codebase, match[0]))
			if len(snippet) > 120 {
				snippet = snippet[:120]
			}

			findings = append(findings, audit.Finding{
				ID:                   findingID(sig.Type, file, line),
				Type:                 sig.Type,
				Severity:             sig.Severity,
				ConfidenceScore:      sig.Confidence,
				Evidence:             []string{sig.Description, "Matched: " + snippet},
				Location:             &audit.Location{File: file, Line: line},
				RiskCategories:       append([]string(nil), sig.RiskCategories...),
				ComplianceViolations: append([]string(nil), sig.ComplianceViolations...),
			})
		}
	}
	return findings
}

// lineOf returns the 1-based line number containing offset.
func lineOf(content string, offset int) int {
	line := 1
	for i := 0; i < len(content) && i < offset; i++ {
		if content[i] == '\n' {
			line++
		}
	}
	return line
}

// lineText returns the full text of the line containing offset.
func lineText(content string, offset int) string {
	start := strings.LastIndexByte(content[:offset], '\n') + 1
	end := strings.IndexByte(content[offset:], '\n')
	if end < 0 {
		return content[start:]
	}
	return content[start : offset+end]
}

// findingID derives a stable id from a finding's identity key.
func findingID(findingType, file string, line int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", findingType, file, line)))
	return "finding-" + hex.EncodeToString(sum[:8])
}
