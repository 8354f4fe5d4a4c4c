package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/errors"
	"github.com/stewardhq/steward/sched"
)

// JobsCmd groups job operations
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and enqueue agent jobs",
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
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
		limit, _ := cmd.Flags().GetInt("limit")
		if status != "" && !sched.IsValidStatus(status) {
			return errors.Newf("invalid status %q", status)
		}

		jobs, err := sched.NewStore(database).ListJobs(cmd.Context(), sched.JobStatus(status), limit)
		if err != nil {
			return err
		}

		for _, job := range jobs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %-12s  %s  run_at=%s\n",
				job.ID, job.Status, job.Type, job.AccountID, job.RunAt.Format(time.RFC3339))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d job(s)\n", len(jobs))
		return nil
	},
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <account-id> <type>",
	Short: "Enqueue a job",
	Args:  cobra.ExactArgs(2),
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

		in, _ := cmd.Flags().GetDuration("in")
		contextJSON, _ := cmd.Flags().GetString("context")

		var jobContext json.RawMessage
		if contextJSON != "" {
			if !json.Valid([]byte(contextJSON)) {
				return errors.New("--context must be valid JSON")
			}
			jobContext = json.RawMessage(contextJSON)
		}

		job, err := sched.NewJob(args[0], args[1], time.Now().Add(in), jobContext)
		if err != nil {
			return err
		}
		if err := sched.NewStore(database).CreateJob(cmd.Context(), job); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s) for %s, due %s\n",
			job.ID, job.Type, job.AccountID, job.RunAt.Format(time.RFC3339))
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its follow-ups",
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

		store := sched.NewStore(database)
		job, err := store.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshal job")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		children, err := store.ListJobsByParent(cmd.Context(), job.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			fmt.Fprintf(cmd.OutOrStdout(), "follow-up: %s  %-8s  %s  run_at=%s\n",
				child.ID, child.Status, child.Type, child.RunAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (queued|running|done|failed|skipped)")
	jobsLsCmd.Flags().Int("limit", 50, "Maximum jobs to list")
	jobsAddCmd.Flags().Duration("in", 0, "Delay before the job is due (e.g. 4h)")
	jobsAddCmd.Flags().String("context", "", "Job context as JSON")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsAddCmd)
	JobsCmd.AddCommand(jobsShowCmd)
}
