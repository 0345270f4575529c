package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/cache"
	"github.com/kalambet/ellbridge/internal/config"
	"github.com/kalambet/ellbridge/internal/extract"
	"github.com/kalambet/ellbridge/internal/perf"
	"github.com/kalambet/ellbridge/internal/storage"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, credential and cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		showStatus(cmd.Context(), client, cfg)
		return nil
	},
}

// serverMetrics mirrors the /api/metrics response.
type serverMetrics struct {
	Records []perf.Record `json:"records"`
	Pending int           `json:"pending"`
	Cache   *cache.Stats  `json:"cache"`
}

func showStatus(ctx context.Context, client *apiClient, cfg config.Config) {
	err := client.call(ctx, http.MethodGet, "/health", nil, nil)
	var se *serverError
	switch {
	case err == nil:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	case errors.As(err, &se):
		printStatus("Server", "error (HTTP %d)", se.Status)
	default:
		printStatus("Server", "stopped")
	}

	for _, m := range cfg.MissingCredentials() {
		printWarning("missing credential: %s", m)
	}
	printStatus("Primary model", "%s", cfg.Anthropic.Model)
	printStatus("Secondary model", "%s", cfg.OpenAI.Model)
	printStatus("Rate limit", "%d requests / %s", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	if err == nil {
		if m, err := client.metrics(ctx); err == nil && m.Cache != nil {
			printStatus("Cache", "%d entries, %d hits, %d misses, %d evictions",
				m.Cache.Entries, m.Cache.Hits, m.Cache.Misses, m.Cache.Evictions)
			printStatus("Recent calls", "%d", len(m.Records))
		}
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
}

// --- adapt ---

var adaptCmd = &cobra.Command{
	Use:   "adapt",
	Short: "Adapt material through the running server",
	Long: `Adapt material through the running server.

Examples:
  ellbridge adapt --file ./worksheet.txt --subject Science --type worksheet --level emerging
  ellbridge adapt --text "Plants need light." --subject Science --type reading --level entering --bilingual Spanish`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		subject, _ := cmd.Flags().GetString("subject")
		material, _ := cmd.Flags().GetString("type")
		level, _ := cmd.Flags().GetString("level")
		grade, _ := cmd.Flags().GetString("grade")
		objectives, _ := cmd.Flags().GetString("objectives")
		bilingual, _ := cmd.Flags().GetString("bilingual")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		backendName, _ := cmd.Flags().GetString("backend")

		req := adaptationRequest{
			Request: adapt.Request{
				Content:            text,
				Subject:            subject,
				MaterialType:       adapt.MaterialType(material),
				ProficiencyLevel:   adapt.ProficiencyLevel(level),
				GradeLevel:         grade,
				LearningObjectives: objectives,
				BilingualSupport:   bilingual != "",
				NativeLanguage:     bilingual,
				MaxOutputTokens:    maxTokens,
			},
			Backend: backendName,
		}
		if err := req.Validate(); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := runAdapt(cmd.Context(), client, req)
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, res.Result.Text)
		source := res.Backend
		if res.Cached {
			source = "cache"
		}
		printSuccess("Adapted via %s (%d in / %d out tokens)", source, res.Result.InputTokens, res.Result.OutputTokens)
		return nil
	},
}

type adaptationRequest struct {
	adapt.Request
	Backend string `json:"backend,omitempty"`
}

type adaptationResult struct {
	Result   adapt.Result `json:"result"`
	Cached   bool         `json:"cached"`
	Backend  string       `json:"backend"`
	FellBack bool         `json:"fellBack"`
}

func runAdapt(ctx context.Context, client *apiClient, req adaptationRequest) (adaptationResult, error) {
	var res adaptationResult
	if err := client.call(ctx, http.MethodPost, "/api/adaptations", req, &res); err != nil {
		return adaptationResult{}, err
	}
	return res, nil
}

func init() {
	adaptCmd.Flags().String("text", "", "material to adapt")
	adaptCmd.Flags().String("file", "", "file containing the material")
	adaptCmd.Flags().String("subject", "", "subject area")
	adaptCmd.Flags().String("type", string(adapt.MaterialWorksheet), "material type")
	adaptCmd.Flags().String("level", "", "proficiency level")
	adaptCmd.Flags().String("grade", "", "grade level")
	adaptCmd.Flags().String("objectives", "", "learning objectives to preserve")
	adaptCmd.Flags().String("bilingual", "", "add support in this native language")
	adaptCmd.Flags().Int("max-tokens", 0, "output token budget")
	adaptCmd.Flags().String("backend", "", "primary or secondary")
}

// --- extract ---

const extractConcurrency = 4

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>...",
	Short: "Extract text from PDF files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := extract.NewPDF(nil)
		results := extractFiles(cmd.Context(), p, args)
		return printExtracted(os.Stdout, results)
	},
}

type extractResult struct {
	Path string
	Text string
	Err  error
}

// extractFiles processes paths concurrently; results keep argument order.
func extractFiles(ctx context.Context, p *extract.Pipeline, paths []string) []extractResult {
	results := make([]extractResult, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			results[i].Path = path
			data, err := os.ReadFile(path)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Text, results[i].Err = p.Extract(gCtx, data)
			return nil
		})
	}
	g.Wait()
	return results
}

func printExtracted(w io.Writer, results []extractResult) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			var xe *extract.Error
			if !errors.As(r.Err, &xe) {
				printError("%s: %v", r.Path, r.Err)
				continue
			}
			printError("%s: %s", r.Path, xe.Kind)
			printStatus("Remedy", "%s", xe.Remedy())
			continue
		}
		if len(results) > 1 {
			fmt.Fprintf(w, "==> %s <==\n", r.Path)
		}
		fmt.Fprintln(w, r.Text)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show the persisted performance log",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		slowOnly, _ := cmd.Flags().GetBool("slow")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := perf.ReadStored(cmd.Context(), store)
		if err != nil {
			return fmt.Errorf("reading metrics: %w", err)
		}
		if slowOnly {
			recs = slowRecords(recs)
		}
		if asJSON {
			if recs == nil {
				recs = []perf.Record{}
			}
			return printJSON(os.Stdout, recs)
		}
		if len(recs) == 0 {
			printWarning("No metrics recorded yet")
			return nil
		}
		printRecords(os.Stdout, recs)
		return nil
	},
}

func slowRecords(recs []perf.Record) []perf.Record {
	var out []perf.Record
	for _, r := range recs {
		if r.Slow {
			out = append(out, r)
		}
	}
	return out
}

func printRecords(w io.Writer, recs []perf.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tDURATION\tBACKEND\tSUCCESS\tOPERATION")
	for _, r := range recs {
		dur := fmt.Sprintf("%dms", r.DurationMs)
		if r.Slow {
			dur = colorize(colorYellow, dur)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Timestamp, dur, r.Tags["backend"], r.Tags["success"], r.Operation)
	}
	tw.Flush()
}

func init() {
	metricsCmd.Flags().Bool("json", false, "print records as JSON")
	metricsCmd.Flags().Bool("slow", false, "only show slow operations")
}

func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the adaptation cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if client, err := newAPIClient(); err == nil {
			if m, err := client.metrics(cmd.Context()); err == nil && m.Cache != nil {
				printStatus("Entries", "%d", m.Cache.Entries)
				printStatus("Hits", "%d", m.Cache.Hits)
				printStatus("Misses", "%d", m.Cache.Misses)
				printStatus("Evictions", "%d", m.Cache.Evictions)
				return nil
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		entries, err := store.List(cmd.Context(), cache.KeyPrefix)
		if err != nil {
			return fmt.Errorf("listing cache entries: %w", err)
		}
		printWarning("Server not running; showing persisted state only")
		printStatus("Persisted entries", "%d", len(entries))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all persisted cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete all cached adaptations. Use --confirm to proceed.")
			return nil
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.DeletePrefix(cmd.Context(), cache.KeyPrefix)
		if err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		printSuccess("Removed %d cached adaptations", n)
		printWarning("A running server keeps its in-memory entries until restart")
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().Bool("confirm", false, "confirm cache deletion")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
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
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		for _, m := range cfg.MissingCredentials() {
			printWarning("missing credential: %s", m)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store an API key in the platform secret store (value read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
		if err != nil {
			return fmt.Errorf("reading secret: %w", err)
		}
		if err := config.SetSecret(args[0], strings.TrimSpace(string(data))); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
