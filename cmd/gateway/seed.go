package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mind-engage/certprep/internal/logger"
	"github.com/mind-engage/certprep/internal/quiz"
)

var seedCmd = &cobra.Command{
	Use:   "seed <bank.yaml>...",
	Short: "Import question bank files (YAML or JSON)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		log, err := logger.New(cfg.LogMode)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()
		dbh, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer dbh.Close()
		store := quiz.NewSQLStore(dbh)

		for _, path := range args {
			certs, questions, err := seedFile(ctx, store, path)
			if err != nil {
				return err
			}
			log.Info("bank imported", "file", path, "certifications", certs, "questions", questions)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d certifications, %d questions\n", path, certs, questions)
		}
		return nil
	},
}

func seedFile(ctx context.Context, store quiz.Store, path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	b, err := quiz.LoadBank(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	return quiz.ImportBank(ctx, store, b)
}
