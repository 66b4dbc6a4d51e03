package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/concretepros/directory-api/internal/auth"
	"github.com/concretepros/directory-api/internal/jobclient"
	"github.com/concretepros/directory-api/internal/model"
)

var version = "dev"

func app() *cli.Command {
	return &cli.Command{
		Name:    "jobwatch",
		Version: version,
		Usage:   "Queue, follow and manage directory maintenance jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the directory API",
				Value:   "http://localhost:8000",
				Sources: cli.EnvVars("JOBWATCH_SERVER"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Admin bearer token",
				Sources: cli.EnvVars("JOBWATCH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			lvl, err := zerolog.ParseLevel(cmd.String("log-level"))
			if err != nil {
				return ctx, fmt.Errorf("invalid log level %q", cmd.String("log-level"))
			}
			zerolog.SetGlobalLevel(lvl)
			return ctx, nil
		},
		Commands: []*cli.Command{
			watchCmd(),
			listCmd(),
			queueCmd(),
			cancelCmd(),
			retryCmd(),
			tokenCmd(),
		},
	}
}

func newClient(cmd *cli.Command) *jobclient.Client {
	return jobclient.New(cmd.String("server"), jobclient.WithToken(cmd.String("token")))
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow active jobs until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Active job poll interval (3s to 5s)",
				Value: jobclient.DefaultPollInterval,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			interval := cmd.Duration("interval")
			if interval < 3*time.Second || interval > 5*time.Second {
				return fmt.Errorf("interval must be between 3s and 5s, got %s", interval)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			state := jobclient.NewJobState()
			removeListener := state.OnChange(printJob)
			defer removeListener()

			watcher := jobclient.NewWatcher(newClient(cmd), state, jobclient.WatcherOptions{
				PollInterval: interval,
				OnModeChange: func(mode jobclient.Mode, jobID string) {
					log.Debug().Str("mode", mode.String()).Str("job_id", jobID).Msg("watch mode changed")
				},
			})
			watcher.Start()
			defer watcher.Dispose()

			<-ctx.Done()
			return nil
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List jobs, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "Filter by job type"},
			&cli.StringFlag{Name: "status", Usage: "Filter by status"},
			&cli.IntFlag{Name: "limit", Usage: "Page size", Value: model.DefaultJobListLimit},
			&cli.IntFlag{Name: "offset", Usage: "Items to skip"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			page, err := newClient(cmd).ListJobs(ctx, jobclient.ListOptions{
				JobType: model.JobType(cmd.String("type")),
				Status:  model.JobStatus(cmd.String("status")),
				Limit:   int(cmd.Int("limit")),
				Offset:  int(cmd.Int("offset")),
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tATTEMPTS\tCREATED")
			for _, j := range page.Jobs {
				p := j.Progress()
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d (%d failed)\t%d/%d\t%s\n",
					j.ID, j.JobType, j.Status, p.Processed+p.Failed, p.Total, p.Failed,
					j.Attempts, j.MaxAttempts, j.CreatedAt.Local().Format(time.DateTime))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("showing %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Jobs), page.Total)
			return nil
		},
	}
}

func queueCmd() *cli.Command {
	return &cli.Command{
		Name:      "queue",
		Usage:     "Queue a job",
		ArgsUsage: "<image_enrichment|review_enrichment>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "payload", Usage: "Job payload as JSON", Value: "{}"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobType := model.JobType(cmd.Args().First())
			if !jobType.Valid() {
				return fmt.Errorf("unknown job type %q", jobType)
			}
			payload := json.RawMessage(cmd.String("payload"))
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			api := newClient(cmd)
			state := jobclient.NewJobState()
			active, err := api.ActiveJobs(ctx)
			if err != nil {
				return err
			}
			for _, j := range active {
				state.Put(j)
			}

			_, err = jobclient.NewControls(api, state, nil, jobclient.LogNotifier{}).QueueJob(ctx, jobType, payload)
			return err
		},
	}
}

func cancelCmd() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a pending job",
		ArgsUsage: "<job-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			controls, id, err := controlsFor(ctx, cmd)
			if err != nil {
				return err
			}
			_, err = controls.CancelJob(ctx, id)
			return err
		},
	}
}

func retryCmd() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Retry a failed job",
		ArgsUsage: "<job-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			controls, id, err := controlsFor(ctx, cmd)
			if err != nil {
				return err
			}
			_, err = controls.RetryJob(ctx, id)
			return err
		},
	}
}

// controlsFor loads the job named by the first argument so the control
// actions can check its status before sending anything
func controlsFor(ctx context.Context, cmd *cli.Command) (*jobclient.Controls, string, error) {
	id := cmd.Args().First()
	if id == "" {
		return nil, "", fmt.Errorf("job id is required")
	}

	api := newClient(cmd)
	job, err := api.GetJob(ctx, id)
	if err != nil {
		return nil, "", err
	}
	state := jobclient.NewJobState()
	state.Put(job)
	return jobclient.NewControls(api, state, nil, jobclient.LogNotifier{}), id, nil
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a legacy admin token for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Usage: "HMAC secret", Sources: cli.EnvVars("JWT_SECRET")},
			&cli.StringFlag{Name: "user", Usage: "Subject user id", Value: "local-admin"},
			&cli.StringFlag{Name: "email", Usage: "Email claim"},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime, 0 for no expiry", Value: 24 * time.Hour},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			secret := cmd.String("secret")
			if secret == "" {
				return fmt.Errorf("secret is required (set JWT_SECRET or --secret)")
			}
			token, err := auth.IssueLegacyToken(secret, cmd.String("user"), cmd.String("email"), cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func printJob(j *model.Job) {
	p := j.Progress()
	line := fmt.Sprintf("%s %-18s %-10s %3d%% %d/%d", j.ID, j.JobType, j.Status, p.Percent, p.Processed+p.Failed, p.Total)
	if p.Failed > 0 {
		line += fmt.Sprintf(" (%d failed)", p.Failed)
	}
	if j.LastError != nil && j.Status == model.JobStatusFailed {
		line += " error: " + strings.TrimSpace(*j.LastError)
	}
	fmt.Println(line)
}
