package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditmesh/consensus/internal/audit"
)

var (
	flagServer        string
	flagSessionsJSON  bool
	flagFilterProject string
	flagReportFormat  string
	flagReportOut     string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List audit sessions from a running engine service",
	RunE:  listSessions,
}

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Export one session's report from a running engine service",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchReport,
}

func init() {
	for _, cmd := range []*cobra.Command{sessionsCmd, reportCmd} {
		cmd.Flags().StringVar(&flagServer, "server", "http://localhost:8080", "Engine service base URL")
	}
	sessionsCmd.Flags().BoolVar(&flagSessionsJSON, "json", false, "Print raw JSON")
	sessionsCmd.Flags().StringVar(&flagFilterProject, "project", "", "Filter by project identifier")
	reportCmd.Flags().StringVar(&flagReportFormat, "format", "json", "Report format (json, html, pdf)")
	reportCmd.Flags().StringVar(&flagReportOut, "out", "", "Output file path (default: stdout)")
}

func listSessions(cmd *cobra.Command, _ []string) error {
	endpoint := strings.TrimRight(flagServer, "/") + "/api/v1/sessions"
	if flagFilterProject != "" {
		endpoint += "?project_id=" + url.QueryEscape(flagFilterProject)
	}

	body, err := fetch(cmd, endpoint)
	if err != nil {
		exitCode = ExitRuntimeError
		return err
	}

	if flagSessionsJSON {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}

	var listing struct {
		Sessions []audit.Session `json:"sessions"`
		Count    int             `json:"count"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		exitCode = ExitRuntimeError
		return fmt.Errorf("decoding session listing: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%d session(s)\n", listing.Count)
	for _, s := range listing.Sessions {
		fmt.Fprintf(w, "%s  %-11s  project=%s  findings=%d  started=%s\n",
			s.ID, s.Status, s.ProjectID, len(s.Findings),
			s.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func fetchReport(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/report?format=%s",
		strings.TrimRight(flagServer, "/"), url.PathEscape(args[0]),
		url.QueryEscape(flagReportFormat))

	body, err := fetch(cmd, endpoint)
	if err != nil {
		exitCode = ExitRuntimeError
		return err
	}

	if flagReportOut != "" {
		if err := os.WriteFile(flagReportOut, body, 0o644); err != nil {
			exitCode = ExitRuntimeError
			return fmt.Errorf("writing %s: %w", flagReportOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", flagReportOut)
		return nil
	}

	_, err = cmd.OutOrStdout().Write(body)
	return err
}

func fetch(cmd *cobra.Command, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting engine service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
