package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/dealscope/internal/config"
)

// --- upload ---

type uploadResult struct {
	StartupID      string `json:"startup_id"`
	Message        string `json:"message"`
	FilesProcessed int    `json:"files_processed"`
	ChunksCreated  int    `json:"chunks_created"`
	Queued         bool   `json:"queued"`
}

type uploadOptions struct {
	startupID   string
	deck        string
	transcripts []string
	emails      []string
	updates     []string
	async       bool
}

func (o uploadOptions) files() []uploadFile {
	files := []uploadFile{{field: "pitch_deck", path: o.deck}}
	for _, p := range o.transcripts {
		files = append(files, uploadFile{field: "transcripts", path: p})
	}
	for _, p := range o.emails {
		files = append(files, uploadFile{field: "emails", path: p})
	}
	for _, p := range o.updates {
		files = append(files, uploadFile{field: "updates", path: p})
	}
	return files
}

func uploadDocuments(ctx context.Context, c *apiClient, opts uploadOptions) (uploadResult, error) {
	var res uploadResult
	if opts.deck == "" {
		return res, errors.New("--deck is required")
	}
	path := "/documents/upload"
	if opts.async {
		path += "?async=true"
	}
	fields := map[string]string{}
	if opts.startupID != "" {
		fields["startup_id"] = opts.startupID
	}
	resp, err := c.upload(ctx, path, opts.files(), fields)
	if err != nil {
		return res, err
	}
	err = decodeJSON(resp, &res)
	return res, err
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a startup's documents",
	Long: `Upload a startup's documents and index them for analysis.

Examples:
  dealscope upload --deck deck.pdf
  dealscope upload --deck deck.pdf --transcript call1.txt --transcript call2.txt --email thread.eml
  dealscope upload --startup-id acme --deck deck.pdf --update q3.html --async`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts uploadOptions
		opts.startupID, _ = cmd.Flags().GetString("startup-id")
		opts.deck, _ = cmd.Flags().GetString("deck")
		opts.transcripts, _ = cmd.Flags().GetStringArray("transcript")
		opts.emails, _ = cmd.Flags().GetStringArray("email")
		opts.updates, _ = cmd.Flags().GetStringArray("update")
		opts.async, _ = cmd.Flags().GetBool("async")
		if opts.deck == "" {
			return errors.New("--deck is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %d files...", len(opts.files()))
		res, err := uploadDocuments(cmd.Context(), client, opts)
		if err != nil {
			return err
		}

		printSuccess("%s", res.Message)
		printStatus("Startup ID", "%s", res.StartupID)
		printStatus("Files", "%d", res.FilesProcessed)
		if res.Queued {
			printStatus("Chunks", "indexing in background")
		} else {
			printStatus("Chunks", "%d", res.ChunksCreated)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("startup-id", "", "startup id (generated when empty)")
	uploadCmd.Flags().String("deck", "", "pitch deck file (pdf, html, txt, md)")
	uploadCmd.Flags().StringArray("transcript", nil, "call transcript file (repeatable)")
	uploadCmd.Flags().StringArray("email", nil, "email or correspondence file (repeatable)")
	uploadCmd.Flags().StringArray("update", nil, "investor update file (repeatable)")
	uploadCmd.Flags().Bool("async", false, "store now and index in the background")
}

// --- analyze ---

type analysisStatus struct {
	StartupID string `json:"startup_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (s analysisStatus) finished() bool {
	return s.Status == "completed" || s.Status == "failed"
}

type analysisList struct {
	Analyses []analysisStatus `json:"analyses"`
	Total    int              `json:"total"`
}

func startAnalysis(ctx context.Context, c *apiClient, id string) (analysisStatus, error) {
	var st analysisStatus
	resp, err := c.post(ctx, "/analysis/start", map[string]string{"startup_id": id})
	if err != nil {
		return st, err
	}
	err = decodeJSON(resp, &st)
	return st, err
}

func getAnalysisStatus(ctx context.Context, c *apiClient, id string) (analysisStatus, error) {
	var st analysisStatus
	resp, err := c.get(ctx, "/analysis/status/"+url.PathEscape(id))
	if err != nil {
		return st, err
	}
	err = decodeJSON(resp, &st)
	return st, err
}

// waitForAnalysis polls until the run completes or fails, calling onProgress
// whenever the reported progress changes.
func waitForAnalysis(ctx context.Context, c *apiClient, id string, interval time.Duration, onProgress func(analysisStatus)) (analysisStatus, error) {
	last := -1
	for {
		st, err := getAnalysisStatus(ctx, c, id)
		if err != nil {
			return st, err
		}
		if st.Progress != last && onProgress != nil {
			onProgress(st)
			last = st.Progress
		}
		if st.finished() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// getAnalysisResults returns the results document, or one top-level section
// of it when section is set.
func getAnalysisResults(ctx context.Context, c *apiClient, id, section string) (json.RawMessage, error) {
	resp, err := c.get(ctx, "/analysis/results/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := decodeJSON(resp, &all); err != nil {
		return nil, err
	}
	if section == "" {
		return json.Marshal(all)
	}
	part, ok := all[section]
	if !ok {
		return nil, fmt.Errorf("results have no section %q", section)
	}
	return part, nil
}

func printAnalysisStatus(st analysisStatus) {
	printStatus("Startup", "%s", st.StartupID)
	printStatus("Status", "%s", st.Status)
	printStatus("Progress", "%s %d%%", progressBar(st.Progress, 20), st.Progress)
	if st.Message != "" {
		printStatus("Message", "%s", st.Message)
	}
	if st.Error != "" {
		printStatus("Error", "%s", colorize(colorRed, st.Error))
	}
}

func writeIndentedJSON(raw []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := os.Stdout.Write(out.Bytes())
	return err
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run and inspect due-diligence analyses",
}

var analyzeStartCmd = &cobra.Command{
	Use:   "start <startup-id>",
	Short: "Start the analysis for an uploaded startup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		st, err := startAnalysis(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSuccess("Analysis started for %s", st.StartupID)
		if !wait {
			return nil
		}

		st, err = waitForAnalysis(cmd.Context(), client, args[0], 2*time.Second, func(st analysisStatus) {
			printStep("%s %3d%% %s", progressBar(st.Progress, 20), st.Progress, st.Message)
		})
		if err != nil {
			return err
		}
		if st.Status == "failed" {
			return fmt.Errorf("analysis failed: %s", st.Error)
		}
		printSuccess("Analysis completed")
		return nil
	},
}

var analyzeStatusCmd = &cobra.Command{
	Use:   "status <startup-id>",
	Short: "Show the progress of an analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := getAnalysisStatus(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printAnalysisStatus(st)
		return nil
	},
}

var analyzeResultsCmd = &cobra.Command{
	Use:   "results <startup-id>",
	Short: "Print the results of a completed analysis as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		section, _ := cmd.Flags().GetString("section")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		raw, err := getAnalysisResults(cmd.Context(), client, args[0], section)
		if err != nil {
			return err
		}
		return writeIndentedJSON(raw)
	},
}

var analyzeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/analysis/list")
		if err != nil {
			return err
		}
		var list analysisList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if list.Total == 0 {
			fmt.Println("No analyses.")
			return nil
		}
		for _, a := range list.Analyses {
			fmt.Printf("%-38s %-10s %3d%%  %s\n", a.StartupID, a.Status, a.Progress, a.UpdatedAt)
		}
		return nil
	},
}

var analyzeDeleteCmd = &cobra.Command{
	Use:   "delete <startup-id>",
	Short: "Delete a finished analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/analysis/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%v", result["message"])
		return nil
	},
}

func init() {
	analyzeStartCmd.Flags().Bool("wait", false, "wait for the analysis to finish")
	analyzeResultsCmd.Flags().String("section", "", "print one section (e.g. recommendation, risk_analysis)")
	analyzeCmd.AddCommand(analyzeStartCmd)
	analyzeCmd.AddCommand(analyzeStatusCmd)
	analyzeCmd.AddCommand(analyzeResultsCmd)
	analyzeCmd.AddCommand(analyzeListCmd)
	analyzeCmd.AddCommand(analyzeDeleteCmd)
}

// --- query ---

type queryHit struct {
	Category   string  `json:"category"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

func queryDocuments(ctx context.Context, c *apiClient, id, question, category string, limit int) ([]queryHit, error) {
	params := url.Values{}
	params.Set("startup_id", id)
	params.Set("q", question)
	if category != "" {
		params.Set("category", category)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	resp, err := c.get(ctx, "/query?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []queryHit `json:"results"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

var queryCmd = &cobra.Command{
	Use:   "query <startup-id> <question>",
	Short: "Search a startup's indexed documents",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		hits, err := queryDocuments(cmd.Context(), client, args[0], strings.Join(args[1:], " "), category, limit)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No matching chunks.")
			return nil
		}
		for i, h := range hits {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("[%d] %.3f", i+1, h.Score)),
				colorize(colorCyan, fmt.Sprintf("%s/%s#%d", h.Category, h.Filename, h.ChunkIndex)))
			fmt.Println(h.Text)
			fmt.Println()
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().String("category", "", "restrict to primary-deck, transcript, correspondence or update")
	queryCmd.Flags().Int("limit", 5, "maximum number of chunks")
}

// --- purge ---

type purgeSummary struct {
	DocumentsDeleted int
	ChunksDeleted    int
	AnalysisDeleted  bool
}

// purgeStartup removes a startup's documents and its analysis. A missing
// analysis is not an error; a running one is.
func purgeStartup(ctx context.Context, c *apiClient, id string) (purgeSummary, error) {
	var sum purgeSummary
	path := url.PathEscape(id)

	resp, err := c.delete(ctx, "/analysis/"+path)
	if err != nil {
		return sum, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		resp.Body.Close()
		sum.AnalysisDeleted = true
	case http.StatusNotFound:
		resp.Body.Close()
	default:
		var ignored map[string]any
		return sum, decodeJSON(resp, &ignored)
	}

	resp, err = c.delete(ctx, "/documents/"+path)
	if err != nil {
		return sum, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return sum, nil
	}
	var out struct {
		DocumentsDeleted int `json:"documents_deleted"`
		ChunksDeleted    int `json:"chunks_deleted"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return sum, err
	}
	sum.DocumentsDeleted = out.DocumentsDeleted
	sum.ChunksDeleted = out.ChunksDeleted
	return sum, nil
}

var purgeCmd = &cobra.Command{
	Use:   "purge <startup-id>",
	Short: "Delete a startup's documents, chunks and analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete all data for %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sum, err := purgeStartup(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if sum.DocumentsDeleted == 0 && sum.ChunksDeleted == 0 && !sum.AnalysisDeleted {
			printWarning("Nothing stored for %s", args[0])
			return nil
		}
		printSuccess("Purged %s: %d documents, %d chunks, analysis deleted: %t",
			args[0], sum.DocumentsDeleted, sum.ChunksDeleted, sum.AnalysisDeleted)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Bool("confirm", false, "confirm the purge")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("  %s\n", colorize(colorCyan, config.ConfigPath()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Secret keys (API keys, the Postgres DSN and the server token) are written to
the secrets file instead of config.toml.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if config.IsSecret(key) {
			printSuccess("Stored secret %s", key)
		} else {
			printSuccess("Set %s = %s", key, value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
