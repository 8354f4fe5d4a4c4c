package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/approval"
	"github.com/stewardhq/steward/errors"
)

// ActionsCmd groups proposed-action operations
var ActionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Review and resolve agent-proposed actions",
}

var actionsLsCmd = &cobra.Command{
	Use:   "ls <account-id>",
	Short: "List an account's proposed actions",
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

		status, _ := cmd.Flags().GetString("status")
		actions, err := approval.NewStore(database).ListByAccount(cmd.Context(), args[0], approval.ActionStatus(status))
		if err != nil {
			return err
		}

		for _, a := range actions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %s/%s  %q\n",
				a.ID, a.Status, a.Domain, a.ActionType, a.Title)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d action(s)\n", len(actions))
		return nil
	},
}

var actionsApproveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve a proposed action",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveAction((*approval.Store).Approve, "approved"),
}

var actionsRejectCmd = &cobra.Command{
	Use:   "reject <action-id>",
	Short: "Reject a proposed action",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveAction((*approval.Store).Reject, "rejected"),
}

func resolveAction(resolve func(*approval.Store, context.Context, string) error, verdict string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		database, err := openDatabase(cmd, cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := resolve(approval.NewStore(database), cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verdict, args[0])
		return nil
	}
}

func init() {
	actionsLsCmd.Flags().String("status", string(approval.ActionStatusProposed), "Filter by status (empty for all)")

	ActionsCmd.AddCommand(actionsLsCmd)
	ActionsCmd.AddCommand(actionsApproveCmd)
	ActionsCmd.AddCommand(actionsRejectCmd)
}
