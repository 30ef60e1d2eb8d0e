package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/database"
	"safarbook/internal/export"
	"safarbook/internal/logging"
)

const dateLayout = "2006-01-02"

func main() {
	mismatches, err := run(os.Args[1:])
	if err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
	if mismatches > 0 {
		os.Exit(2)
	}
}

// run writes the reconciliation report for bookings created between -from and
// -to, both inclusive calendar days in UTC, and returns the number of flagged rows.
func run(args []string) (int, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fromFlag := fs.String("from", time.Now().UTC().AddDate(0, 0, -7).Format(dateLayout), "first day, YYYY-MM-DD")
	toFlag := fs.String("to", time.Now().UTC().Format(dateLayout), "last day, YYYY-MM-DD")
	outFlag := fs.String("out", "", "output directory (default exports.path from config)")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}

	from, err := time.Parse(dateLayout, *fromFlag)
	if err != nil {
		return 0, fmt.Errorf("invalid -from: %w", err)
	}
	to, err := time.Parse(dateLayout, *toFlag)
	if err != nil {
		return 0, fmt.Errorf("invalid -to: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return 0, fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := logging.Component(baseLogger, "export")

	dir := *outFlag
	if dir == "" {
		dir = cfg.Exports.Path
	}
	if dir == "" {
		dir = "exports"
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	path, sum, err := export.NewReconciler(db, logger).WriteXLSX(context.Background(), from, to.AddDate(0, 0, 1), dir)
	if err != nil {
		return 0, err
	}

	fmt.Printf("%s\nbookings=%d payments=%d confirmed=%d mismatches=%d\n",
		path, sum.Bookings, sum.Payments, sum.Confirmed, sum.Mismatches)
	return sum.Mismatches, nil
}
