package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/infinity-templates/composer/internal/catalog"
	"github.com/infinity-templates/composer/internal/config"
	"github.com/infinity-templates/composer/internal/dispatch"
	"github.com/infinity-templates/composer/internal/engine"
	"github.com/infinity-templates/composer/internal/faults"
	"github.com/infinity-templates/composer/internal/manifest"
	"github.com/infinity-templates/composer/internal/memstore"
	"github.com/infinity-templates/composer/internal/server"
	"github.com/infinity-templates/composer/internal/store"
)

// Exit codes per spec.md §6.
const (
	exitOK              = 0
	exitManifestInvalid = 1
	exitCatalogFailed   = 2
	exitFilesystemFault = 3
	exitTimeout         = 4
	exitPostVerifyFault = 5
)

var rootCmd = &cobra.Command{
	Use:   "composer",
	Short: "Manifest-driven repository composer",
	Long: `composer turns a declarative JSON manifest into a buildable output repository
by selecting templates from a curated library, stitching them together, and
writing the result to disk.
Core concepts:
- Manifest: the declarative description of a desired system (backend, frontend, AI agents, governance, infrastructure toggles).
- Template descriptor: static metadata about one template in the library (category, inputs, outputs, dependencies).
- Composition: validate, resolve, order, stage, verify, promote — the engine's one pass over a manifest.
- Catalog: the read-only index of every template the library root declares.
- Dispatch: forwarding a composed system's outcome to an external worker (repository webhook).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("COMPOSER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("template-root", "library", "template library root")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("template-root", rootCmd.PersistentFlags().Lookup("template-root"))
}

func registerCommands() {
	rootCmd.AddCommand(composeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(validateCmd())
}

// exitedError carries the exit code a RunE should terminate the process
// with, since cobra itself only distinguishes "error" from "no error".
type exitedError struct {
	code int
	err  error
}

func (e *exitedError) Error() string { return e.err.Error() }

func exitCodeFor(err error) int {
	var ee *exitedError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitManifestInvalid
}

func composeCmd() *cobra.Command {
	var manifestPath, outputDir, templateRoot string
	var dryRun, overwrite bool
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a system from a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				return &exitedError{exitManifestInvalid, fmt.Errorf("read manifest: %w", err)}
			}
			var m manifest.Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return &exitedError{exitManifestInvalid, fmt.Errorf("parse manifest: %w", err)}
			}

			cat, err := catalog.Load(templateRoot)
			if err != nil {
				return &exitedError{exitCatalogFailed, err}
			}

			eng := engine.New(cat)
			result, err := eng.Compose(cmd.Context(), engine.ComposeOptions{
				Manifest:   &m,
				OutputRoot: outputDir,
				DryRun:     dryRun,
				Overwrite:  overwrite,
			})
			if err != nil {
				return &exitedError{exitCodeForFault(err), err}
			}

			return printComposeResult(result)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the manifest JSON file")
	cmd.Flags().StringVar(&outputDir, "output", ".", "output root directory")
	cmd.Flags().StringVar(&templateRoot, "template-root", "library", "template library root")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, write nothing")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite an existing output directory")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func exitCodeForFault(err error) int {
	var f *faults.Fault
	if !errors.As(err, &f) {
		return exitManifestInvalid
	}
	switch f.Kind {
	case faults.ManifestInvalid, faults.NameCollision, faults.DependencyCycle:
		return exitManifestInvalid
	case faults.UnknownTemplate:
		return exitCatalogFailed
	case faults.FilesystemFault:
		return exitFilesystemFault
	case faults.Timeout:
		return exitTimeout
	case faults.PostVerifyFault:
		return exitPostVerifyFault
	default:
		return exitManifestInvalid
	}
}

func printComposeResult(result *engine.ComposeResult) error {
	if viper.GetBool("json") {
		return printJSON(result)
	}
	fmt.Printf("system %q: %s files written across %d templates in %s\n",
		result.Report.SystemName,
		humanize.Comma(int64(result.Report.FilesWritten)),
		len(result.Report.ResolvedPlan),
		result.Report.Duration,
	)
	if result.Report.DryRun {
		fmt.Println("(dry run, nothing was written)")
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Category", "Slug", "Instance", "Target"})
	for _, n := range result.Plan.Nodes {
		if n.IsCore {
			continue
		}
		tw.AppendRow(table.Row{n.Descriptor.Category, n.Descriptor.Slug, n.InstanceName, n.TargetSubpath})
	}
	tw.Render()
	for _, w := range result.Report.Warnings {
		fmt.Println("warning:", w)
	}
	return nil
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the control plane HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			templateRoot := viper.GetString("template-root")

			cat, err := catalog.Load(templateRoot)
			if err != nil {
				return &exitedError{exitCatalogFailed, err}
			}

			if err := store.EnsureStateDir(cfg.StateDir); err != nil {
				return &exitedError{exitFilesystemFault, err}
			}
			db, err := store.Open(store.Config{StateDir: cfg.StateDir})
			if err != nil {
				return &exitedError{exitFilesystemFault, err}
			}
			defer db.Close()
			if err := store.Migrate(db); err != nil {
				return &exitedError{exitFilesystemFault, err}
			}
			jobs := store.NewRepo(db)

			mem := memstore.New(cfg.StateDir)

			transport := dispatch.NewTransport(cfg.TemplateRepo, cfg.DispatchToken)
			dispatcher := dispatch.New(transport)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go dispatcher.Run(ctx)

			handler, err := server.New(server.Config{
				Catalog:        cat,
				Engine:         engine.New(cat),
				Jobs:           jobs,
				Memory:         mem,
				Dispatcher:     dispatcher,
				APIKey:         cfg.APIKey,
				OutputRoot:     viper.GetString("output"),
				ComposeTimeout: cfg.ComposeTimeout(),
			})
			if err != nil {
				return err
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()
			if cfg.DevMode() {
				fmt.Printf("Serving composer API on http://%s (dev mode, auth disabled)\n", addr)
			} else {
				fmt.Printf("Serving composer API on http://%s\n", addr)
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "listen address")
	cmd.Flags().String("output", ".", "output root the API writes composed systems under")
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	return cmd
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Inspect the template library catalog"}
	cat.AddCommand(catalogListCategoriesCmd())
	cat.AddCommand(catalogListTemplatesCmd())
	cat.AddCommand(catalogShowCmd())
	return cat
}

func loadCatalogOrExit() (*catalog.Catalog, error) {
	root := viper.GetString("template-root")
	cat, err := catalog.Load(root)
	if err != nil {
		return nil, &exitedError{exitCatalogFailed, err}
	}
	return cat, nil
}

func catalogListCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-categories",
		Short: "List template categories with counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalogOrExit()
			if err != nil {
				return err
			}
			counts := cat.ListCategories()
			if viper.GetBool("json") {
				return printJSON(counts)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Category", "Count"})
			for c, n := range counts {
				tw.AppendRow(table.Row{c, n})
			}
			tw.Render()
			return nil
		},
	}
}

func catalogListTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-templates <category>",
		Short: "List templates in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalogOrExit()
			if err != nil {
				return err
			}
			category := catalog.Category(args[0])
			if !category.Valid() {
				return &exitedError{exitCatalogFailed, fmt.Errorf("unknown category %q", args[0])}
			}
			descs := cat.ListTemplates(category)
			if viper.GetBool("json") {
				return printJSON(descs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Slug", "Outputs", "DependsOn"})
			for _, d := range descs {
				tw.AppendRow(table.Row{d.Slug, len(d.Outputs), len(d.DependsOn)})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func catalogShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <category> <slug>",
		Short: "Show one template descriptor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalogOrExit()
			if err != nil {
				return err
			}
			ref := catalog.DescriptorRef{Category: catalog.Category(args[0]), Slug: args[1]}
			desc, ok := cat.Resolve(ref)
			if !ok {
				return &exitedError{exitCatalogFailed, fmt.Errorf("unknown template %s", ref)}
			}
			return printJSON(desc)
		},
	}
	return cmd
}

func validateCmd() *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a manifest against the schema, without dispatching",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				return &exitedError{exitManifestInvalid, err}
			}
			var m manifest.Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return &exitedError{exitManifestInvalid, err}
			}
			m.ApplyDefaults()
			errs := m.Validate()
			if len(errs) == 0 {
				fmt.Println("manifest is valid")
				return nil
			}
			for _, fe := range errs {
				fmt.Printf("%s: %s\n", fe.Field, fe.Message)
			}
			return &exitedError{exitManifestInvalid, fmt.Errorf("%d validation errors", len(errs))}
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the manifest JSON file")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
