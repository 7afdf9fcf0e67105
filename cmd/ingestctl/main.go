// Command ingestctl administers an ingest deployment: schema migrations,
// corpus loading, file submission and session event watching.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/internal/app"
	"github.com/OFFIS-RIT/ingest/backend/internal/db"
	"github.com/OFFIS-RIT/ingest/backend/internal/queue"
	"github.com/OFFIS-RIT/ingest/backend/internal/util"
	"github.com/OFFIS-RIT/ingest/backend/pkg/events"
	"github.com/OFFIS-RIT/ingest/backend/pkg/fingerprint"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/ingest/backend/pkg/registry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	util.LoadEnv()

	rootCmd := &cobra.Command{
		Use:   "ingestctl",
		Short: "Administer the file ingestion engine",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			logger.Init(console.New(console.Params{Debug: debug || util.GetEnvBool("DEBUG", false)}))
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	// Migration commands
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}
	migrateCmd.PersistentFlags().String("database-url", util.GetEnv("DATABASE_URL"), "Postgres connection string")
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE:  runMigrateDown,
	}
	downCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(downCmd)
	rootCmd.AddCommand(migrateCmd)

	// Fingerprint command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "fingerprint [file...]",
		Short: "Print the content fingerprint of files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFingerprint,
	})

	// Submit command
	submitCmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Register a file and optionally process it",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().String("owner", "", "Owner of the file, empty for anonymous")
	submitCmd.Flags().String("type", "", "Declared file type, detected from the name when empty")
	submitCmd.Flags().Bool("process", false, "Process the file in this process")
	submitCmd.Flags().Bool("enqueue", false, "Publish a processing request to the queue")
	rootCmd.AddCommand(submitCmd)

	// Process command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "process [file-id]",
		Short: "Run the processing pipeline for a registered file",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcess,
	})

	// Corpus commands
	corpusCmd := &cobra.Command{
		Use:   "corpus",
		Short: "Corpus entity operations",
	}
	corpusCmd.AddCommand(&cobra.Command{
		Use:   "load [file.yaml]",
		Short: "Create or update corpus entities from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCorpusLoad,
	})
	rootCmd.AddCommand(corpusCmd)

	// Session commands
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail sessions that have been active for too long",
		RunE:  runSweep,
	}
	sweepCmd.Flags().Duration("older-than", util.GetEnvDuration("SESSION_STALE_AFTER", 30*time.Minute), "Age after which an active session counts as stale")
	rootCmd.AddCommand(sweepCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session events as JSON lines",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("redis-addr", util.GetEnv("REDIS_ADDR"), "Redis address")
	watchCmd.Flags().String("channel", util.GetEnvString("REDIS_CHANNEL", events.DefaultChannel), "Redis channel")
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("database-url")
	if url == "" {
		return fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return db.Migrate(url)
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("database-url")
	steps, _ := cmd.Flags().GetInt("steps")
	if url == "" {
		return fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return db.Rollback(url, steps)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		fp, size, err := fingerprint.FromReader(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%s  %d  %s\n", fp, size, path)
	}
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	owner, _ := cmd.Flags().GetString("owner")
	fileType, _ := cmd.Flags().GetString("type")
	process, _ := cmd.Flags().GetBool("process")
	enqueue, _ := cmd.Flags().GetBool("enqueue")

	content, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	engine, err := app.Build(ctx, app.OptionsFromEnv())
	if err != nil {
		return err
	}
	defer engine.Close()

	var ownerPtr *string
	if owner != "" {
		ownerPtr = &owner
	}
	res, err := engine.Registry.Submit(ctx, registry.SubmitParams{
		Content:      content,
		OriginalName: filepath.Base(args[0]),
		DeclaredType: ingest.FileType(fileType),
		Owner:        ownerPtr,
		Store:        engine.Blobs.Put,
	})
	if err != nil {
		return err
	}
	out := map[string]any{"file": res.File, "is_duplicate": !res.IsNew}

	switch {
	case process:
		result, err := engine.Processor.Process(ctx, res.File.ID)
		if err != nil {
			return err
		}
		out["session"] = result.Session
		out["relationships"] = len(result.Relationships)
		out["tags"] = result.Tags
	case enqueue:
		id, err := publish(ctx, res.File.ID)
		if err != nil {
			return err
		}
		out["correlation_id"] = id
	}
	return printJSON(out)
}

func publish(ctx context.Context, fileID uuid.UUID) (string, error) {
	conn, err := queue.Dial(queue.ConfigFromEnv())
	if err != nil {
		return "", err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return "", err
	}
	defer ch.Close()
	if err := queue.Setup(ch, queue.ProcessQueue); err != nil {
		return "", err
	}
	return queue.NewProducer(ch).EnqueueProcessing(ctx, fileID, "ingestctl")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file id: %w", err)
	}
	engine, err := app.Build(ctx, app.OptionsFromEnv())
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Processor.Process(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runCorpusLoad(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	engine, err := app.Build(ctx, app.OptionsFromEnv())
	if err != nil {
		return err
	}
	defer engine.Close()

	n, err := loadCorpus(ctx, engine.Store, args[0], engine.Config)
	if err != nil {
		return err
	}
	logger.Info("Corpus loaded", "entities", n, "file", args[0])
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	engine, err := app.Build(ctx, app.OptionsFromEnv())
	if err != nil {
		return err
	}
	defer engine.Close()

	n, err := engine.Sessions.FailStale(ctx, olderThan)
	if err != nil {
		return err
	}
	logger.Info("Stale sessions failed", "count", n)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	addr, _ := cmd.Flags().GetString("redis-addr")
	channel, _ := cmd.Flags().GetString("channel")
	bus, err := events.NewRedisBus(ctx, addr, util.GetEnv("REDIS_PASSWORD"), channel)
	if err != nil {
		return err
	}
	defer bus.Close()

	enc := json.NewEncoder(os.Stdout)
	err = bus.Subscribe(ctx, func(ev events.SessionEvent) {
		if err := enc.Encode(ev); err != nil {
			logger.Warn("Failed to print event", "err", err)
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
