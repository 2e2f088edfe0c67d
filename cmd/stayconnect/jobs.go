package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"stayconnect/internal/app"
	"stayconnect/internal/control"
	"stayconnect/internal/jobs"
	"stayconnect/internal/storage"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and drive the job queue",
	Long: `Talk to a running daemon through its control API, or run a job in-process.

Every subcommand except "run" needs "stayconnect serve" with control.enabled.
The address and token default to the control section of the config file.`,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue status and every job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := controlClient(cmd)
		if err != nil {
			return err
		}
		st, err := cli.Status(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(st)
		}

		state := "stopped"
		if st.QueueRunning {
			state = "running"
		}
		pterm.Info.Printf("Queue %s: %d jobs, %d enabled, %d running\n", state, st.TotalJobs, st.EnabledJobs, st.RunningJobs)

		data := pterm.TableData{{"ID", "Status", "Schedule", "Last run", "Next run", "Retries", "Last error"}}
		for _, j := range st.Jobs {
			data = append(data, []string{
				j.ID,
				j.Status,
				j.Schedule,
				ago(j.LastRun),
				orDash(j.NextRun),
				fmt.Sprintf("%d/%d", j.RetryCount, j.MaxRetries),
				truncate(orDash(j.LastError), 48),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var jobsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report daemon health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := controlClient(cmd)
		if err != nil {
			return err
		}
		h, err := cli.Health(cmd.Context())
		if err != nil {
			return err
		}
		if h.Status != "healthy" {
			pterm.Warning.Printf("%s\n", h.Status)
			return printJSON(h)
		}
		pterm.Success.Printf("%s\n", h.Status)
		return nil
	},
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <job-id>",
	Short: "Run a job now on the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := controlClient(cmd)
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")
		res, err := cli.Trigger(cmd.Context(), args[0], wait)
		if err != nil {
			return err
		}
		switch {
		case res.Error != "":
			pterm.Error.Printf("%s failed after %s: %s\n", res.JobID, time.Duration(res.DurationMS)*time.Millisecond, res.Error)
			return errors.Newf("job %s failed", res.JobID)
		case res.Waited:
			pterm.Success.Printf("%s finished in %s\n", res.JobID, time.Duration(res.DurationMS)*time.Millisecond)
		default:
			pterm.Success.Printf("%s\n", res.Message)
		}
		return nil
	},
}

func setEnabledCmd(use string, enabled bool) *cobra.Command {
	verb := "Disable"
	if enabled {
		verb = "Enable"
	}
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: verb + " scheduled runs of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := controlClient(cmd)
			if err != nil {
				return err
			}
			if err := cli.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			pterm.Success.Printf("%s %sd\n", args[0], use)
			return nil
		},
	}
}

var jobsRunsCmd = &cobra.Command{
	Use:   "runs [job-id]",
	Short: "List recent executions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := controlClient(cmd)
		if err != nil {
			return err
		}
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := cli.Runs(cmd.Context(), id, limit)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			pterm.Info.Println("No runs recorded")
			return nil
		}
		data := pterm.TableData{{"Job", "Trigger", "Started", "Took", "Result"}}
		for _, r := range runs {
			started := r.StartedAt
			result := "ok"
			if r.Error != "" {
				result = truncate(r.Error, 60)
			}
			data = append(data, []string{
				r.JobID,
				r.Trigger,
				ago(&started),
				(time.Duration(r.DurationMS) * time.Millisecond).String(),
				result,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job in this process, without a daemon",
	Long: `Run a sync job once against the configured storage and catalog.

  stayconnect jobs run spotify-check-releases --days 7
  stayconnect jobs run spotify-sync-artists --force --batch-size 10
  stayconnect jobs run spotify-sync-artists --artist <artist-id>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		artist, _ := cmd.Flags().GetString("artist")
		force, _ := cmd.Flags().GetBool("force")
		batch, _ := cmd.Flags().GetInt("batch-size")
		days, _ := cmd.Flags().GetInt("days")
		record, _ := cmd.Flags().GetBool("record")

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		start := time.Now()
		var stats jobs.Stats
		switch args[0] {
		case jobs.ReleaseCheckID:
			opt := jobs.ReleaseOptions{ArtistID: artist}
			if days > 0 {
				opt.Window = time.Duration(days) * 24 * time.Hour
			}
			stats, err = a.Releases().Run(ctx, opt)
		case jobs.ArtistSyncID:
			stats, err = a.Artists().Run(ctx, jobs.SyncOptions{ArtistID: artist, Force: force, BatchSize: batch})
		default:
			return errors.WithHintf(errors.Newf("unknown job %q", args[0]), "known jobs: %s, %s", jobs.ReleaseCheckID, jobs.ArtistSyncID)
		}
		took := time.Since(start)

		if record {
			run := storage.JobRun{JobID: args[0], Trigger: "cli", StartedAt: start, Duration: took}
			if err != nil {
				run.Error = err.Error()
			}
			recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if rerr := a.Store().AppendJobRun(recCtx, run); rerr != nil {
				pterm.Warning.Printf("run not recorded: %v\n", rerr)
			}
			cancel()
		}

		if err != nil {
			pterm.Error.Printf("%s failed after %s (%s): %v\n", args[0], took.Round(time.Millisecond), stats, err)
			return err
		}
		pterm.Success.Printf("%s finished in %s\n", args[0], took.Round(time.Millisecond))
		pterm.Printf("  %s\n", stats)
		return nil
	},
}

func init() {
	jobsCmd.PersistentFlags().String("addr", "", "control API address (default from config, then "+control.DefaultAddr+")")
	jobsCmd.PersistentFlags().String("token", "", "control API token (default from config or CRON_API_KEY)")
	jobsCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "request timeout")

	jobsStatusCmd.Flags().Bool("json", false, "print raw JSON")
	jobsRunsCmd.Flags().Bool("json", false, "print raw JSON")
	jobsRunsCmd.Flags().IntP("limit", "n", 20, "number of runs")
	jobsTriggerCmd.Flags().BoolP("wait", "w", false, "wait for the job to finish")

	jobsRunCmd.Flags().String("artist", "", "only this artist (internal id)")
	jobsRunCmd.Flags().Bool("force", false, "artist sync: ignore the staleness window")
	jobsRunCmd.Flags().Int("batch-size", 0, "artist sync: artists per batch")
	jobsRunCmd.Flags().Int("days", 0, "release check: window in days")
	jobsRunCmd.Flags().Bool("record", true, "append the run to the run log")

	jobsCmd.AddCommand(jobsStatusCmd, jobsHealthCmd, jobsTriggerCmd, jobsRunsCmd, jobsRunCmd)
	jobsCmd.AddCommand(setEnabledCmd("enable", true), setEnabledCmd("disable", false))
}
