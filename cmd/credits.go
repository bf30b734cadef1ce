package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Adjust user credit balances",
	}
	cmd.AddCommand(newCreditsGrantCmd(), newCreditsSetCmd())
	return cmd
}

func newCreditsGrantCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:          "grant <config.toml> <userID> <amount>",
		Short:        "Add credits to a user",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, amount, err := parseUserAmount(args[1], args[2])
			if err != nil {
				return err
			}
			ledger, closeDB, err := openLedger(args[0])
			if err != nil {
				return err
			}
			defer closeDB()

			balance, err := ledger.Grant(cmd.Context(), userID, amount, note)
			if err != nil {
				return fmt.Errorf("grant credits: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d now has %d credits\n", userID, balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "granted from cli", "Journal note for the grant")
	return cmd
}

func newCreditsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "set <config.toml> <userID> <amount>",
		Short:        "Overwrite a user's balance",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, amount, err := parseUserAmount(args[1], args[2])
			if err != nil {
				return err
			}
			ledger, closeDB, err := openLedger(args[0])
			if err != nil {
				return err
			}
			defer closeDB()

			user, err := ledger.SetBalance(cmd.Context(), userID, amount)
			if err != nil {
				return fmt.Errorf("set credits: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d (%s) now has %d credits\n", user.ID, user.Username, user.Credits)
			return nil
		},
	}
}

func parseUserAmount(userArg, amountArg string) (int64, int, error) {
	userID, err := strconv.ParseInt(userArg, 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, fmt.Errorf("invalid user id %q", userArg)
	}
	amount, err := strconv.Atoi(amountArg)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid amount %q", amountArg)
	}
	return userID, amount, nil
}

func openLedger(configFile string) (*storage.GormLedger, func(), error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger := newCLILogger()
	db, err := storage.InitDB(cfg.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return storage.NewGormLedger(db, logger), func() { _ = storage.Close(db) }, nil
}

// newCLILogger is silent unless --verbose is set.
func newCLILogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
