package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/errors"
)

// RunCmd executes one poll cycle
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one poll cycle",
	Long: `Fetch due jobs, run each through the decision pipeline, and print a
JSON summary. Idempotent: concurrent invocations never run a job twice.
Exits 0 even when individual jobs failed; the summary carries the counts.`,
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

		summary, err := buildRunner(cfg, database).RunOnce(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "poll cycle")
		}

		out, err := json.Marshal(summary)
		if err != nil {
			return errors.Wrap(err, "marshal summary")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
