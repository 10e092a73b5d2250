package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hylla/lastkoll/internal/adapters/storage/sqlite"
	"github.com/hylla/lastkoll/internal/app"
	"github.com/hylla/lastkoll/internal/config"
	"github.com/hylla/lastkoll/internal/platform"
)

// version stores a package-level helper value.
var version = "dev"

// main handles main.
func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run runs the requested command flow.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("lastkoll", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath string
		dbPath     string
		appName    string
		devMode    bool
		showVer    bool
	)
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("LASTKOLL_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("LASTKOLL_APP_NAME")); envApp != "" {
		appName = envApp
	} else {
		appName = "lastkoll"
	}
	fs.StringVar(&configPath, "config", "", "path to config TOML")
	fs.StringVar(&dbPath, "db", "", "path to sqlite database")
	fs.StringVar(&appName, "app", appName, "application name for config/data path resolution")
	fs.BoolVar(&devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	fs.BoolVar(&showVer, "version", false, "show version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVer {
		_, _ = fmt.Fprintf(stdout, "lastkoll %s\n", version)
		return nil
	}

	paths, err := platform.DefaultPaths(platform.Options{
		AppName: appName,
		DevMode: devMode,
	})
	if err != nil {
		return err
	}

	command := firstArg(fs.Args())
	switch command {
	case "paths":
		_, _ = fmt.Fprintf(stdout, "app: %s\n", appName)
		_, _ = fmt.Fprintf(stdout, "dev_mode: %t\n", devMode)
		_, _ = fmt.Fprintf(stdout, "config: %s\n", paths.ConfigPath)
		_, _ = fmt.Fprintf(stdout, "data_dir: %s\n", paths.DataDir)
		_, _ = fmt.Fprintf(stdout, "db: %s\n", paths.DBPath)
		return nil
	case "bootstrap", "workload", "history", "activity", "export", "import":
		// Continue.
	case "":
		return fmt.Errorf("a command is required: bootstrap|workload|history|activity|export|import|paths")
	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	dbOverridden := strings.TrimSpace(dbPath) != ""
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("LASTKOLL_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("LASTKOLL_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	defaultCfg := config.Default(dbPath)
	cfg, err := config.Load(configPath, defaultCfg)
	if err != nil {
		return fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(stderr, appName, cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure runtime logger: %w", err)
	}

	logger.Info("startup configuration resolved", "app", appName, "dev_mode", devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		return fmt.Errorf("open sqlite repository: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Warn("sqlite close failed", "db_path", cfg.Database.Path, "err", closeErr)
		}
	}()
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		ActivityRetention:    cfg.Activity.RetentionLimit,
		DefaultWorkloadCap:   cfg.Capacity.DefaultWorkloadCap,
		DefaultOverBeyondCap: cfg.Capacity.DefaultOverBeyondCap,
	})
	logger.Debug("application service initialized",
		"activity_retention", cfg.Activity.RetentionLimit,
		"default_workload_cap", cfg.Capacity.DefaultWorkloadCap,
		"default_over_beyond_cap", cfg.Capacity.DefaultOverBeyondCap)

	logger.Info("command flow start", "command", command)
	switch command {
	case "bootstrap":
		err = runBootstrap(ctx, svc, fs.Args()[1:], stdout)
	case "workload":
		err = runWorkload(ctx, svc, fs.Args()[1:], stdout)
	case "history":
		err = runHistory(ctx, svc, fs.Args()[1:], stdout)
	case "activity":
		err = runActivity(ctx, svc, fs.Args()[1:], stdout)
	case "export":
		err = runExport(ctx, svc, fs.Args()[1:], stdout)
	case "import":
		err = runImport(ctx, svc, fs.Args()[1:])
	}
	if err != nil {
		logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	logger.Info("command flow complete", "command", command)
	return nil
}

// runBootstrap ensures the directory has an admin to attribute mutations to.
func runBootstrap(ctx context.Context, svc *app.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("lastkoll bootstrap", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var name string
	fs.StringVar(&name, "name", "admin", "display name for the bootstrap admin")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse bootstrap flags: %w", err)
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unexpected bootstrap arguments: %v", fs.Args())
	}

	admin, err := svc.EnsureBootstrapAdmin(ctx, name)
	if err != nil {
		return fmt.Errorf("ensure bootstrap admin: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "admin: %s (%s)\n", admin.ID, admin.Name)
	return nil
}

// runWorkload prints one person's committed workload across both pools.
func runWorkload(ctx context.Context, svc *app.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("lastkoll workload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var personID string
	fs.StringVar(&personID, "person", "", "person id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse workload flags: %w", err)
	}
	if strings.TrimSpace(personID) == "" {
		return fmt.Errorf("--person is required")
	}

	snap, err := svc.ComputeWorkload(ctx, personID)
	if err != nil {
		return fmt.Errorf("compute workload: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "person: %s\n", snap.PersonID)
	_, _ = fmt.Fprintf(stdout, "primary_committed: %s%%\n", formatPct(snap.PrimaryCommitted))
	_, _ = fmt.Fprintf(stdout, "discretionary_committed: %s%%\n", formatPct(snap.DiscretionaryCommitted))
	_, _ = fmt.Fprintf(stdout, "total: %s%%\n", formatPct(snap.Total))
	_, _ = fmt.Fprintf(stdout, "available_primary: %s%%\n", formatPct(snap.AvailablePrimary))
	_, _ = fmt.Fprintf(stdout, "available_discretionary: %s%%\n", formatPct(snap.AvailableDiscretionary))
	_, _ = fmt.Fprintf(stdout, "overloaded: %t\n", snap.IsOverloaded)
	return nil
}

// runHistory prints the field-level audit trail for one entity.
func runHistory(ctx context.Context, svc *app.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("lastkoll history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var entityID string
	fs.StringVar(&entityID, "entity", "", "work item or initiative id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse history flags: %w", err)
	}
	if strings.TrimSpace(entityID) == "" {
		return fmt.Errorf("--entity is required")
	}

	records, err := svc.GetHistory(ctx, entityID)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	for _, record := range records {
		_, _ = fmt.Fprintf(stdout, "%s  %-12s %-10s %q -> %q  by %s\n",
			record.OccurredAt.Format(time.RFC3339),
			record.FieldName,
			record.ChangeType,
			record.OldValue,
			record.NewValue,
			record.Actor,
		)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(stdout, "no recorded changes")
	}
	return nil
}

// runActivity prints recent activity entries, most recent first.
func runActivity(ctx context.Context, svc *app.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("lastkoll activity", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		entityType string
		entityID   string
		limit      int
	)
	fs.StringVar(&entityType, "type", "", "filter by entity type (person|work_item|initiative)")
	fs.StringVar(&entityID, "id", "", "filter by entity id")
	fs.IntVar(&limit, "limit", 50, "maximum entries to print")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse activity flags: %w", err)
	}

	records, err := svc.QueryActivity(ctx, app.ActivityFilter{
		EntityType: entityType,
		EntityID:   entityID,
	}, limit)
	if err != nil {
		return fmt.Errorf("query activity: %w", err)
	}
	for _, record := range records {
		_, _ = fmt.Fprintf(stdout, "%s  %-10s %-24s %s %s\n",
			record.OccurredAt.Format(time.RFC3339),
			record.Actor,
			record.Action,
			record.EntityType,
			record.EntityID,
		)
		if record.Details != "" {
			_, _ = fmt.Fprintf(stdout, "  %s\n", record.Details)
		}
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(stdout, "no activity recorded")
	}
	return nil
}

// runExport runs the requested command flow.
func runExport(ctx context.Context, svc *app.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("lastkoll export", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var outPath string
	fs.StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse export flags: %w", err)
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unexpected export arguments: %v", fs.Args())
	}

	snap, err := svc.ExportSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot json: %w", err)
	}
	encoded = append(encoded, '\n')

	if outPath == "-" {
		if _, err := stdout.Write(encoded); err != nil {
			return fmt.Errorf("write snapshot to stdout: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create export output dir: %w", err)
	}
	if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}

// runImport runs the requested command flow.
func runImport(ctx context.Context, svc *app.Service, args []string) error {
	fs := flag.NewFlagSet("lastkoll import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var inPath string
	fs.StringVar(&inPath, "in", "", "input snapshot JSON file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse import flags: %w", err)
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unexpected import arguments: %v", fs.Args())
	}
	if inPath == "" {
		return fmt.Errorf("--in is required")
	}

	content, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	var snap app.Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return fmt.Errorf("decode snapshot json: %w", err)
	}
	if err := svc.ImportSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	return nil
}

// firstArg handles first arg.
func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// formatPct renders percentage values without trailing zero noise.
func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// newRuntimeLogger configures the console log sink from config state.
func newRuntimeLogger(stderr io.Writer, appName string, cfg config.LoggingConfig) (*charmLog.Logger, error) {
	level, err := charmLog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}
	return charmLog.NewWithOptions(stderr, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.TextFormatter,
	}), nil
}
