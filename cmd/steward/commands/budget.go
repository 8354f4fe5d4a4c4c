package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/budget"
	"github.com/stewardhq/steward/errors"
)

// BudgetCmd groups budget operations
var BudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show balances and grant manager tokens",
}

var budgetShowCmd = &cobra.Command{
	Use:   "show <account-id>",
	Short: "Show an account's balance and recent ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		database, err := openDatabase(cmd, cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		gate := budget.NewGate(database)
		balance, err := gate.Balance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "balance: %.2f\n", balance)

		entries, err := gate.ListLedger(cmd.Context(), args[0], 20)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %+8.2f  %-12s  %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Amount, e.Category, string(e.Metadata))
		}
		return nil
	},
}

var budgetGrantCmd = &cobra.Command{
	Use:   "grant <account-id> <amount>",
	Short: "Add manager tokens to an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return errors.Wrapf(err, "invalid amount %q", args[1])
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		database, err := openDatabase(cmd, cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		gate := budget.NewGate(database)
		if err := gate.Grant(cmd.Context(), args[0], amount); err != nil {
			return err
		}

		if cost, _ := cmd.Flags().GetFloat64("cost-per-cycle"); cost > 0 {
			if err := gate.SetCostPerCycle(cmd.Context(), args[0], cost); err != nil {
				return err
			}
		}

		balance, err := gate.Balance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %.2f, balance now %.2f\n", amount, balance)
		return nil
	},
}

func init() {
	budgetGrantCmd.Flags().Float64("cost-per-cycle", 0, "Also set the account's per-cycle cost")

	BudgetCmd.AddCommand(budgetShowCmd)
	BudgetCmd.AddCommand(budgetGrantCmd)
}
