package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"asset-census-api/internal"
	"asset-census-api/internal/config"
	"asset-census-api/internal/store"
	"asset-census-api/pkg/importer"
	"asset-census-api/pkg/reconcile"
)

type options struct {
	file           string
	mapping        string
	maxErrors      int
	asJSON         bool
	includeRemoved bool
	skip           []string
	verbose        bool
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:          "import_excel",
		Short:        "Reconcile an .xlsx asset snapshot against the census",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.file, "file", "f", "", "path to the .xlsx snapshot (required)")
	root.PersistentFlags().StringVar(&opts.mapping, "mapping", "", "column mapping YAML (default: embedded mapping)")
	root.PersistentFlags().IntVar(&opts.maxErrors, "max-errors", 50, "stop reading after this many row errors")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = root.MarkPersistentFlagRequired("file")

	preview := &cobra.Command{
		Use:   "preview",
		Short: "Print the change-set without writing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPreview(cmd.Context(), opts)
		},
	}
	preview.Flags().BoolVar(&opts.asJSON, "json", false, "print the change-set as JSON")

	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply added and modified entries, and removals when asked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApply(cmd.Context(), opts)
		},
	}
	apply.Flags().BoolVar(&opts.includeRemoved, "include-removed", false, "also delete assets missing from the snapshot")
	apply.Flags().StringSliceVar(&opts.skip, "skip", nil, "keys to leave out of the apply")

	root.AddCommand(preview, apply)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// session loads the configured store behind a server so the CLI goes through
// the same diff and apply path as the HTTP API.
func session(ctx context.Context, opts options) (*internal.Server, *zap.Logger, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadAndValidate()
	if err != nil {
		return nil, nil, err
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.MigrationsDir, logger.Named("store"))
	if err != nil {
		return nil, nil, err
	}
	srv, err := internal.NewServer(ctx, cfg, st, nil, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return srv, logger, nil
}

func diff(ctx context.Context, srv *internal.Server, opts options) (*reconcile.ChangeSet, importer.Summary, error) {
	f, err := os.Open(opts.file)
	if err != nil {
		return nil, importer.Summary{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	records, sum, err := importer.Read(f, importer.Options{MappingPath: opts.mapping, MaxErrors: opts.maxErrors})
	if err != nil {
		printSummary(sum)
		return nil, sum, fmt.Errorf("import failed: %w", err)
	}
	cs, err := srv.Diff(ctx, records)
	return cs, sum, err
}

func runPreview(ctx context.Context, opts options) error {
	srv, logger, err := session(ctx, opts)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer srv.Close(ctx)

	cs, sum, err := diff(ctx, srv, opts)
	if err != nil {
		return err
	}
	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"summary": sum, "changes": cs})
	}
	printSummary(sum)
	printChangeSet(cs)
	return nil
}

func runApply(ctx context.Context, opts options) error {
	srv, logger, err := session(ctx, opts)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer srv.Close(ctx)

	cs, sum, err := diff(ctx, srv, opts)
	if err != nil {
		return err
	}
	if opts.includeRemoved {
		cs.SelectAll(reconcile.KindRemoved, true)
	}
	for _, key := range opts.skip {
		if err := cs.Select(strings.TrimSpace(key), false); err != nil {
			return err
		}
	}
	printSummary(sum)
	printChangeSet(cs)

	res, err := srv.Apply(ctx, cs)
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("APPLY RESULT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Inserted: %d\n", len(res.Inserted))
	fmt.Printf("Updated:  %d\n", len(res.Updated))
	fmt.Printf("Deleted:  %d\n", len(res.Deleted))
	for _, t := range res.Transitions {
		fmt.Printf("  area %s: %s -> %s\n", t.Area, t.From, t.To)
	}
	return nil
}

func printSummary(sum importer.Summary) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("SNAPSHOT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Rows: %d  Skipped: %d  Errors: %d\n", sum.Rows, sum.Skipped, sum.Errors)
	for _, sheet := range sum.Sheets {
		fmt.Printf("  %s (area %s): rows=%d, skipped=%d, errors=%d\n",
			sheet.Name, sheet.Area, sheet.Rows, sheet.Skipped, sheet.Errors)
		for _, sample := range sheet.Samples {
			fmt.Printf("    Row %d: %s\n", sample.Row, sample.Message)
		}
	}
}

func printChangeSet(cs *reconcile.ChangeSet) {
	sel := cs.Selected()
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("CHANGE-SET")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Added:    %d (%d selected)\n", len(cs.Added), sel[reconcile.KindAdded])
	fmt.Printf("Modified: %d (%d selected)\n", len(cs.Modified), sel[reconcile.KindModified])
	fmt.Printf("Removed:  %d (%d selected)\n", len(cs.Removed), sel[reconcile.KindRemoved])
	if cs.Malformed > 0 {
		fmt.Printf("Malformed rows: %d\n", cs.Malformed)
	}
	if len(cs.Duplicates) > 0 {
		fmt.Printf("Duplicate keys: %s\n", strings.Join(cs.Duplicates, ", "))
	}
	if len(cs.RemovalAreas) > 0 {
		fmt.Printf("Removals limited to: %s\n", strings.Join(cs.RemovalAreas, ", "))
	}
	for _, e := range cs.Modified {
		for _, f := range e.Fields {
			fmt.Printf("  ~ %s %s: %q -> %q\n", e.Key, f.Field, f.Old, f.New)
		}
	}
	for _, e := range cs.Removed {
		mark := " "
		if e.Selected {
			mark = "x"
		}
		fmt.Printf("  - [%s] %s %s\n", mark, e.Key, e.Current.Description)
	}
}
