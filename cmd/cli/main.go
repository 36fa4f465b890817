package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"minwage/adapters/export"
	"minwage/adapters/postgres"
	"minwage/adapters/waves"
	"minwage/app"
	"minwage/domain/core"
	"minwage/domain/estimation"
	"minwage/internal"
	"minwage/internal/config"
	"minwage/internal/errors"
	"minwage/internal/harmonize"
	"minwage/internal/migration"
	"minwage/internal/testkit"
	"minwage/ports"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "minwage",
		Short:         "Estimate employment effects of age-based minimum wage thresholds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("study", "", "Study file (overrides MINWAGE_STUDY)")

	rootCmd.AddCommand(
		newRunCmd(),
		newHarmonizeCmd(),
		newShowCmd(),
		newResultsCmd(),
		newGenerateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", errors.GetCode(err), err)
		os.Exit(1)
	}
}

// loadEnv loads .env and the environment config
func loadEnv(cmd *cobra.Command) (*config.Config, *internal.Logger, error) {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if path, _ := cmd.Flags().GetString("study"); path != "" {
		cfg.Study = path
	}
	return cfg, internal.NewLogger(internal.ParseLevel(cfg.Logging.Level), os.Stderr, cfg.Logging.Format), nil
}

// setup loads the environment config and the study file
func setup(cmd *cobra.Command) (*config.Config, *config.Study, *internal.Logger, error) {
	cfg, log, err := loadEnv(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	study, err := config.LoadStudy(cfg.Study)
	if err != nil {
		return nil, nil, nil, err
	}
	if !filepath.IsAbs(study.BaseDir) {
		study.BaseDir = filepath.Join(filepath.Dir(cfg.Study), study.BaseDir)
	}
	return cfg, study, log, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every analysis of the study",
		Long: `Load, harmonize and combine the study's waves, then estimate every
configured analysis. Results are printed, exported to MINWAGE_OUTPUT_DIR and
stored in the database when MINWAGE_DATABASE_URL is set.

Example: minwage run --study study.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, study, log, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			opts := []app.Option{app.WithLogger(log), app.WithWorkers(cfg.Workers)}
			if cfg.Database.URL != "" {
				db, err := openDatabase(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				opts = append(opts, app.WithRepository(postgres.NewResultRepository(db)))
			}
			exporter, err := newExporter(cfg)
			if err != nil {
				return err
			}
			if exporter != nil {
				opts = append(opts, app.WithExporter(exporter))
			}

			loader := waves.NewFileLoader(study.WaveFiles(), study.BaseDir, log)
			res, runErr := app.NewPipelineService(loader, opts...).Run(ctx, study)
			if exporter != nil {
				if err := exporter.Close(); err != nil && runErr == nil {
					runErr = fmt.Errorf("failed to close exporter: %w", err)
				}
			}
			if res != nil {
				printResult(res)
			}
			return runErr
		},
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	if cfg.Database.Migrate {
		if err := migration.NewRunner().Run(ctx, db); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "database migration failed")
		}
	}
	return db, nil
}

func newExporter(cfg *config.Config) (ports.Exporter, error) {
	switch strings.ToLower(cfg.Output.Format) {
	case "xlsx":
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
		return export.NewExcelExporter(filepath.Join(cfg.Output.Dir, "minwage.xlsx")), nil
	case "csv":
		return export.NewCSVExporter(cfg.Output.Dir)
	}
	return nil, nil
}

func printResult(res *app.PipelineResult) {
	fmt.Printf("Pipeline %s: %d observations from %d waves", res.ID, len(res.Panel.Observations), len(res.Panel.Waves))
	if n := len(res.Panel.Excluded); n > 0 {
		fmt.Printf(" (%d excluded)", n)
	}
	fmt.Println()
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	fmt.Println()
	fmt.Printf("%-28s %-12s %-14s %10s %10s %10s %8s\n", "analysis", "model", "term", "estimate", "std.err", "p-value", "n")
	for _, r := range app.ResultRows(res) {
		if r.Term == "" {
			fmt.Printf("%-28s %-12s failed: %s\n", r.Analysis, r.Model, r.Note)
			continue
		}
		fmt.Printf("%-28s %-12s %-14s %10.4f %10.4f %10.4f %8d", r.Analysis, r.Model, r.Term, r.Estimate, r.StdErr, r.PValue, r.N)
		if r.Note != "" {
			fmt.Printf("  %s", r.Note)
		}
		fmt.Println()
	}
}

// openRepository connects to the results database without migrating
func openRepository(cmd *cobra.Command) (ports.ResultRepository, func() error, error) {
	cfg, _, err := loadEnv(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, errors.ConfigInvalid("MINWAGE_DATABASE_URL is not set")
	}
	db, err := sqlx.ConnectContext(cmd.Context(), "postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, errors.DatabaseError("failed to connect to database", err)
	}
	return postgres.NewResultRepository(db), db.Close, nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a persisted analysis run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRunID(args[0])
			if err != nil {
				return err
			}
			repo, closeDB, err := openRepository(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			run, err := repo.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("Run %s (pipeline %s)\n", run.ID, run.PipelineID)
			fmt.Printf("  analysis: %s (%s), event %s, outcome %s\n", run.Analysis, run.Model, run.Event, run.Outcome)
			fmt.Printf("  status:   %s", run.Status)
			if run.ErrorCode != "" {
				fmt.Printf(" [%s] %s", run.ErrorCode, run.Error)
			}
			fmt.Println()
			fmt.Printf("  n:        %d\n", run.N)
			fmt.Printf("  variance: %s, reliable %t\n", run.Variance.Kind, run.Variance.Reliable)
			for _, w := range run.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			return nil
		},
	}
}

func newResultsCmd() *cobra.Command {
	var filters ports.CoefficientFilters
	var model string

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List persisted coefficients of completed runs",
		Long: `List coefficients stored by previous runs, optionally narrowed to one
policy event, outcome or model.

Example: minwage results --event nlw2016 --model event_study`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters.Model = estimation.Model(model)
			repo, closeDB, err := openRepository(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			recs, err := repo.ListCoefficients(cmd.Context(), filters)
			if err != nil {
				return err
			}
			fmt.Printf("%-38s %-14s %10s %10s %10s\n", "run", "term", "estimate", "std.err", "p-value")
			for _, r := range recs {
				fmt.Printf("%-38s %-14s %10.4f %10.4f %10.4f\n", r.RunID, r.Term, r.Estimate, r.StdErr, r.PValue)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filters.Event, "event", "", "Policy event name")
	cmd.Flags().StringVar(&filters.Outcome, "outcome", "", "Outcome name")
	cmd.Flags().StringVar(&model, "model", "", "Model (did, event_study or rdd)")
	cmd.Flags().IntVar(&filters.Limit, "limit", 0, "Maximum number of coefficients")

	return cmd
}

func newHarmonizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harmonize",
		Short: "Show how each wave's raw columns resolve onto canonical variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, study, log, err := setup(cmd)
			if err != nil {
				return err
			}
			opts := []harmonize.Option{harmonize.WithLogger(log)}
			if study.DateLayout != "" {
				opts = append(opts, harmonize.WithDateLayout(study.DateLayout))
			}
			h, err := harmonize.New(study.VariableMap(), opts...)
			if err != nil {
				return errors.Wrap(errors.ConfigInvalid(err.Error()), "invalid variable map")
			}

			loader := waves.NewFileLoader(study.WaveFiles(), study.BaseDir, log)
			ids, err := loader.Waves(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				raw, err := loader.Load(cmd.Context(), id)
				if err != nil {
					fmt.Printf("%s: %v\n", id, err)
					continue
				}
				hw, warnings := h.Harmonize(raw)
				fmt.Printf("%s: %d rows\n", id, len(hw.Records))
				resolved := make([]string, 0, len(hw.Resolved))
				for k, col := range hw.Resolved {
					resolved = append(resolved, fmt.Sprintf("%s <- %s", k, col))
				}
				sort.Strings(resolved)
				for _, r := range resolved {
					fmt.Printf("  %s\n", r)
				}
				if len(hw.Missing) > 0 {
					fmt.Printf("  missing: %s\n", strings.Join(hw.Missing, ", "))
				}
				for _, w := range warnings {
					fmt.Printf("  warning: %s\n", w)
				}
			}
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		dir      string
		format   string
		seed     int64
		count    int
		span     int
		perCell  int
		effect   float64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic survey waves with a planted effect and a matching study file",
		Long: `Generate quarterly labour force survey waves in which unemployment
rises by --effect for respondents aged 25 and over interviewed after April
2016. A study.yaml running DiD, event-study and RDD analyses is written next
to the waves.

Example: minwage generate --dir synthetic --format xlsx --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := testkit.DefaultConfig()
			cfg.Seed, cfg.Waves, cfg.WaveQuarters, cfg.PerCell, cfg.Effect = seed, count, span, perCell, effect

			ds, err := testkit.Generate(cfg)
			if err != nil {
				return errors.InvalidInput(err.Error())
			}
			ext := "." + strings.TrimPrefix(strings.ToLower(format), ".")
			files, err := testkit.WriteFiles(dir, ds, ext)
			if err != nil {
				return err
			}

			study := syntheticStudy(cfg, files)
			data, err := yaml.Marshal(study)
			if err != nil {
				return fmt.Errorf("failed to encode study: %w", err)
			}
			path := filepath.Join(dir, "study.yaml")
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write study: %w", err)
			}
			fmt.Printf("Wrote %d waves and %s\n", len(files), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "synthetic", "Output directory")
	cmd.Flags().StringVar(&format, "format", "csv", "Wave file format (csv or xlsx)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for deterministic generation")
	cmd.Flags().IntVar(&count, "waves", 12, "Number of waves")
	cmd.Flags().IntVar(&span, "wave-quarters", 1, "Quarters covered by each wave")
	cmd.Flags().IntVar(&perCell, "per-cell", 200, "Respondents per age and quarter")
	cmd.Flags().Float64Var(&effect, "effect", 0.05, "Planted change in the unemployment rate")

	return cmd
}

func syntheticStudy(cfg testkit.Config, files []waves.WaveFile) config.Study {
	e := cfg.Event
	fe := []string{"age", "period"}
	return config.Study{
		Name:     "synthetic",
		Waves:    files,
		TimeUnit: "quarter",
		Events: []config.EventSpec{{
			Name:          e.Name,
			AgeThreshold:  e.AgeThreshold,
			ImplementedOn: e.ImplementedOn.Format(config.DateLayout),
		}},
		Analyses: []config.AnalysisSpec{
			{Name: "did_unemployed", Model: estimation.ModelDiD, Event: e.Name, Outcome: "unemployed", FixedEffects: fe},
			{Name: "did_inactive", Model: estimation.ModelDiD, Event: e.Name, Outcome: "inactive", FixedEffects: fe},
			{Name: "es_unemployed", Model: estimation.ModelEventStudy, Event: e.Name, Outcome: "unemployed", FixedEffects: fe, Aggregate: true},
			{Name: "rdd_unemployed", Model: estimation.ModelRDD, Event: e.Name, Outcome: "unemployed", From: e.ImplementedOn.Format(config.DateLayout)},
		},
	}
}
