package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ganesh-ai/internal/config"
	"ganesh-ai/internal/database"
	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/store"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	userID := fs.Uint("user", 0, "User ID")
	adjust := fs.String("adjust", "", "Signed amount to add to the balance, e.g. -2.50")
	note := fs.String("note", "", "Reason for the adjustment (required with -adjust)")
	limit := fs.Int("entries", 10, "Number of ledger entries to print")
	dbPath := fs.String("db", "", "Path to a SQLite database (default: use DB_* environment)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == 0 {
		fmt.Fprintln(stdout, "Usage: ledgerctl -user <id> [-adjust <delta> -note <text>] [-db <db_path>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	cfg := config.LoadConfig()
	var (
		db  *gorm.DB
		err error
	)
	if *dbPath != "" {
		db, err = database.ConnectSQLite(*dbPath)
	} else {
		db, err = database.Open(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	ctx := context.Background()
	svc := ledger.NewService(store.New(db), cfg.Policy())
	id := uint(*userID)

	if *adjust != "" {
		delta, err := decimal.NewFromString(*adjust)
		if err != nil {
			return fmt.Errorf("invalid -adjust %q: %w", *adjust, err)
		}
		if *note == "" {
			return fmt.Errorf("-note is required with -adjust")
		}
		res, err := svc.ApplyAdminAdjustment(ctx, id, delta, *note)
		if err != nil {
			return fmt.Errorf("adjustment failed: %w", err)
		}
		fmt.Fprintf(stdout, "Adjusted user %d by %s, balance now %s\n", id, delta.StringFixed(2), res.User.Balance.StringFixed(2))
	}

	st, err := svc.Statement(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", id, err)
	}

	u := st.User
	fmt.Fprintf(stdout, "User %d (%s) status=%s premium=%t referral=%s\n", u.ID, u.Username, u.Status, u.IsPremium, u.ReferralCode)
	fmt.Fprintf(stdout, "Balance: %s (%d ledger entries, reconciled)\n", st.Total.StringFixed(2), len(st.Entries))

	entries := st.Entries
	if *limit >= 0 && len(entries) > *limit {
		entries = entries[:*limit]
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "  #%d %s %-17s %10s -> %10s %s\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.Amount.StringFixed(2), e.BalanceAfter.StringFixed(2), e.Note)
	}
	return nil
}
