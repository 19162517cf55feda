package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"channelpass/internal/config"
	"channelpass/internal/database"
	"channelpass/internal/logging"
	"channelpass/internal/models"
	"channelpass/internal/service"
)

func main() {
	// Define subcommands
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	grantCmd := flag.NewFlagSet("grant", flag.ExitOnError)
	creditCmd := flag.NewFlagSet("credit", flag.ExitOnError)

	exportOutput := exportCmd.String("output", "", "Output file path (default: backup_YYYYMMDD_HHMMSS.json)")

	importInput := importCmd.String("input", "", "Input file path (required)")
	importClear := importCmd.Bool("clear", false, "Clear existing data before import (WARNING: destructive)")

	grantUser := grantCmd.Int64("user", 0, "Telegram user ID (required)")
	grantDays := grantCmd.Int("days", 30, "Subscription length in days")
	grantChannel := grantCmd.String("channel", models.ChannelPremium, "Channel type")

	creditUser := creditCmd.Int64("user", 0, "Telegram user ID (required)")
	creditAmount := creditCmd.Int64("amount", 0, "Stars to add (required)")
	creditNote := creditCmd.String("note", "Manual credit", "Transaction description")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	logger, err := logging.New(false)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations to ensure schema is up to date
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	switch os.Args[1] {
	case "export":
		exportCmd.Parse(os.Args[2:])
		handleExport(ctx, service.NewBackupService(db, logger), *exportOutput, logger)

	case "import":
		importCmd.Parse(os.Args[2:])
		if *importInput == "" {
			fmt.Println("Error: -input flag is required")
			importCmd.PrintDefaults()
			os.Exit(1)
		}
		handleImport(ctx, service.NewBackupService(db, logger), db, *importInput, *importClear, logger)

	case "grant":
		grantCmd.Parse(os.Args[2:])
		if *grantUser == 0 {
			fmt.Println("Error: -user flag is required")
			grantCmd.PrintDefaults()
			os.Exit(1)
		}
		subscriptions := service.NewSubscriptionService(db, cfg.Catalog(), logger)
		sub, err := subscriptions.Grant(ctx, *grantUser, *grantChannel, time.Duration(*grantDays)*24*time.Hour)
		if err != nil {
			logger.Fatal("Grant failed", zap.Error(err))
		}
		logger.Info("Subscription granted",
			zap.Int64("user_id", sub.UserID),
			zap.String("channel", sub.ChannelType),
			zap.Time("expires_at", sub.ExpiresAt))

	case "credit":
		creditCmd.Parse(os.Args[2:])
		if *creditUser == 0 || *creditAmount <= 0 {
			fmt.Println("Error: -user and a positive -amount are required")
			creditCmd.PrintDefaults()
			os.Exit(1)
		}
		ledger := service.NewLedgerService(db, logger)
		tx, err := ledger.Credit(ctx, *creditUser, *creditAmount, *creditNote)
		if err != nil {
			logger.Fatal("Credit failed", zap.Error(err))
		}
		logger.Info("Balance credited", zap.Int64("user_id", tx.UserID), zap.Int64("amount", tx.Amount))

	default:
		printUsage()
		os.Exit(1)
	}
}

func handleExport(ctx context.Context, backupService *service.BackupService, outputPath string, logger *zap.Logger) {
	if outputPath == "" {
		timestamp := time.Now().Format("20060102_150405")
		outputPath = fmt.Sprintf("backup_%s.json", timestamp)
	}

	dir := filepath.Dir(outputPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create output directory", zap.Error(err))
		}
	}

	logger.Info("Exporting database", zap.String("path", outputPath))
	if err := backupService.Export(ctx, outputPath); err != nil {
		logger.Fatal("Export failed", zap.Error(err))
	}

	fileInfo, err := os.Stat(outputPath)
	if err == nil {
		logger.Info("Export complete", zap.Float64("size_mb", float64(fileInfo.Size())/1024/1024))
	}
}

func handleImport(ctx context.Context, backupService *service.BackupService, db *database.DB, inputPath string, clearData bool, logger *zap.Logger) {
	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		logger.Fatal("Input file does not exist", zap.String("path", inputPath))
	}

	if clearData {
		fmt.Print("WARNING: This will delete all existing data. Type 'yes' to confirm: ")
		var confirmation string
		fmt.Scanln(&confirmation)
		if confirmation != "yes" {
			logger.Info("Import cancelled")
			return
		}

		logger.Info("Clearing existing data...")
		if err := clearDatabase(ctx, db, logger); err != nil {
			logger.Fatal("Failed to clear database", zap.Error(err))
		}
	}

	logger.Info("Importing database", zap.String("path", inputPath))
	if err := backupService.Import(ctx, inputPath); err != nil {
		logger.Fatal("Import failed", zap.Error(err))
	}

	logger.Info("Import complete")
}

func clearDatabase(ctx context.Context, db *database.DB, logger *zap.Logger) error {
	// Delete in reverse order of dependencies
	tables := []string{
		"invite_links",
		"subscriptions",
		"stars_payments",
		"transactions",
		"pending_invoices",
		"users",
	}

	return db.WithTx(ctx, func(tx *database.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return fmt.Errorf("failed to clear table %s: %w", table, err)
			}
			logger.Info("Cleared table", zap.String("table", table))
		}
		return nil
	})
}

func printUsage() {
	fmt.Println("channelpass operator tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  backup export [options]    Export database to JSON file")
	fmt.Println("  backup import [options]    Import database from JSON file")
	fmt.Println("  backup grant [options]     Grant a subscription without payment")
	fmt.Println("  backup credit [options]    Add stars to a user's balance")
	fmt.Println()
	fmt.Println("Export Options:")
	fmt.Println("  -output <file>    Output file path (default: backup_YYYYMMDD_HHMMSS.json)")
	fmt.Println()
	fmt.Println("Import Options:")
	fmt.Println("  -input <file>     Input file path (required)")
	fmt.Println("  -clear            Clear existing data before import (WARNING: destructive)")
	fmt.Println()
	fmt.Println("Grant Options:")
	fmt.Println("  -user <id>        Telegram user ID (required)")
	fmt.Println("  -days <n>         Subscription length in days (default: 30)")
	fmt.Println("  -channel <type>   Channel type (default: premium)")
	fmt.Println()
	fmt.Println("Credit Options:")
	fmt.Println("  -user <id>        Telegram user ID (required)")
	fmt.Println("  -amount <stars>   Stars to add (required)")
	fmt.Println("  -note <text>      Transaction description")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_TYPE    Database type: sqlite, postgres, or mysql (default: sqlite)")
	fmt.Println("  DB_PATH          SQLite database path (default: ./channelpass.db)")
	fmt.Println("  DATABASE_URL     PostgreSQL or MySQL connection URL")
}
