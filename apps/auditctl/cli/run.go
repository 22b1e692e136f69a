package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/consensus"
	"github.com/auditmesh/consensus/internal/engine"
	"github.com/auditmesh/consensus/internal/modelcall"
)

var (
	flagProject   string
	flagLanguage  string
	flagDepth     string
	flagModels    string
	flagMinScore  float64
	flagWeights   string
	flagFormat    string
	flagFailOn    string
	flagGateway   string
	flagAPIKey    string
	flagTimeout   int
	flagNoFallbck bool
)

var runCmd = &cobra.Command{
	Use:   "run [file...]",
	Short: "Audit source files and print merged findings",
	Long: "Run reads the given files (or stdin when none are given), audits them " +
		"through the configured reviewers, and prints the consensus findings. " +
		"Without a gateway the heuristic scanner reviews locally.",
	RunE: runAudit,
}

func init() {
	runCmd.Flags().StringVar(&flagProject, "project", "local", "Project identifier")
	runCmd.Flags().StringVar(&flagLanguage, "language", "", "Source language hint")
	runCmd.Flags().StringVar(&flagDepth, "depth", "standard", "Audit depth (quick, standard, deep)")
	runCmd.Flags().StringVar(&flagModels, "models", "security-specialist,vulnerability-hunter,code-quality", "Comma-separated reviewer identifiers")
	runCmd.Flags().Float64Var(&flagMinScore, "min-score", 0.3, "Minimum consensus score for reported findings")
	runCmd.Flags().StringVar(&flagWeights, "weights", "", "Reviewer weight table YAML file")
	runCmd.Flags().StringVar(&flagFormat, "format", "text", "Output format (text, json)")
	runCmd.Flags().StringVar(&flagFailOn, "fail-on", "high", "Exit nonzero when findings at or above this severity exist (none, low, medium, high, critical)")
	runCmd.Flags().StringVar(&flagGateway, "gateway", "", "Reviewer gateway base URL (empty runs heuristic-only)")
	runCmd.Flags().StringVar(&flagAPIKey, "api-key", "", "Reviewer gateway API key (defaults to REVIEWER_API_KEY)")
	runCmd.Flags().IntVar(&flagTimeout, "timeout", 120, "Audit timeout in seconds")
	runCmd.Flags().BoolVar(&flagNoFallbck, "no-fallback", false, "Disable the heuristic fallback tier")
}

func runAudit(cmd *cobra.Command, args []string) error {
	code, targets, err := readSources(args)
	if err != nil {
		exitCode = ExitRuntimeError
		return err
	}

	opts, err := buildOptions()
	if err != nil {
		exitCode = ExitUsageError
		return err
	}

	eng := engine.New(engine.Config{
		Models:              splitComma(flagModels),
		ConfidenceThreshold: flagMinScore,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		EnableFallback:      !flagNoFallbck,
		AuditTimeout:        time.Duration(flagTimeout) * time.Second,
	}, opts...)

	result, err := eng.Audit(cmd.Context(), &audit.Request{
		ProjectID: flagProject,
		Codebase:  code,
		Targets:   targets,
		Language:  flagLanguage,
		Options: audit.Options{
			Depth:           audit.Depth(flagDepth),
			EnableConsensus: true,
		},
	})
	if err != nil {
		exitCode = ExitRuntimeError
		return err
	}

	if err := printResult(cmd.OutOrStdout(), result); err != nil {
		exitCode = ExitRuntimeError
		return err
	}

	if shouldFail(result.Findings, flagFailOn) {
		exitCode = ExitFindings
	}
	return nil
}

func buildOptions() ([]engine.Option, error) {
	var opts []engine.Option

	if flagGateway != "" {
		apiKey := flagAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("REVIEWER_API_KEY")
		}
		opts = append(opts, engine.WithCaller(modelcall.NewHTTPCaller(modelcall.Config{
			BaseURL:        flagGateway,
			APIKey:         apiKey,
			TimeoutSeconds: flagTimeout,
		})))
	}

	if flagWeights != "" {
		weights, err := consensus.LoadWeights(flagWeights)
		if err != nil {
			return nil, fmt.Errorf("loading weight table: %w", err)
		}
		opts = append(opts, engine.WithWeights(weights))
	}

	return opts, nil
}

// readSources concatenates the named files, or stdin when none are named.
// Each file contributes a target path for finding attribution.
func readSources(args []string) (string, []string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", nil, fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil, nil
	}

	var sb strings.Builder
	targets := make([]string, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("reading %s: %w", path, err)
		}
		targets = append(targets, filepath.ToSlash(path))
		sb.Write(data)
		sb.WriteByte('\n')
	}
	return sb.String(), targets, nil
}

func printResult(w io.Writer, result *audit.Result) error {
	if flagFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(w, "Session %s  project=%s  reviewers=%d run / %d failed  consensus=%.2f\n",
		result.SessionID, result.ProjectID,
		len(result.ReviewersRun), len(result.ReviewersFailed), result.ConsensusScore)
	if result.FromCache {
		fmt.Fprintln(w, "(served from cache)")
	}
	if len(result.Findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return nil
	}

	for i, f := range result.Findings {
		loc := "unknown"
		if f.Location != nil {
			loc = fmt.Sprintf("%s:%d", f.Location.File, f.Location.Line)
		}
		fmt.Fprintf(w, "%d. [%s] %s at %s (confidence %.2f)\n",
			i+1, strings.ToUpper(string(f.Severity)), f.Type, loc, f.ConfidenceScore)
		if f.Consensus != nil {
			fmt.Fprintf(w, "   agreement %d/%d reviewers\n",
				f.Consensus.ModelsAgreed, f.Consensus.TotalModels)
		}
		for _, ev := range f.Evidence {
			fmt.Fprintf(w, "   - %s\n", ev)
		}
	}
	if result.Usage.TotalTokens > 0 {
		fmt.Fprintf(w, "Usage: %d tokens, $%.4f\n", result.Usage.TotalTokens, result.Usage.CostUSD)
	}
	return nil
}

func shouldFail(findings []audit.Finding, failOn string) bool {
	if failOn == "" || failOn == "none" {
		return false
	}
	threshold := audit.Severity(failOn)
	if !threshold.Valid() {
		return false
	}
	for _, f := range findings {
		if f.Severity.Rank() >= threshold.Rank() {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
