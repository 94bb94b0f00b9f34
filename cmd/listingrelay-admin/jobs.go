package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/target/listing-relay/internal/bootstrap"
	"github.com/target/listing-relay/internal/domain/model"
)

type submitJobOptions struct {
	Source string
	Region string
	Params string
}

func runSubmitJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubmitJobFlags(args)
	if err != nil {
		return err
	}

	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc *bootstrap.ServiceContainer) error {
		job, err := svc.Orchestrator.Submit(ctx, model.SubmitJobRequest{
			Source: opts.Source,
			Region: opts.Region,
			Params: json.RawMessage(opts.Params),
		})
		if err != nil {
			return err
		}
		return writef(cmdCtx.Out, "%s %s\n", job.ID, job.Status)
	})
}

func parseSubmitJobFlags(args []string) (submitJobOptions, error) {
	fs := flag.NewFlagSet("submit-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts submitJobOptions
	fs.StringVar(&opts.Source, "source", "", "Scraper source name (required)")
	fs.StringVar(&opts.Region, "region", "", "Region, e.g. a ZIP code (required)")
	fs.StringVar(&opts.Params, "params", "", "Adapter parameters as a JSON object")

	if err := fs.Parse(args); err != nil {
		return submitJobOptions{}, err
	}
	if strings.TrimSpace(opts.Source) == "" || strings.TrimSpace(opts.Region) == "" {
		return submitJobOptions{}, errors.New("--source and --region are required")
	}
	if opts.Params != "" && !json.Valid([]byte(opts.Params)) {
		return submitJobOptions{}, errors.New("--params must be valid JSON")
	}
	return opts, nil
}

type jobStatusOptions struct {
	ID      string
	RawJSON bool
}

func runJobStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobStatusFlags(args)
	if err != nil {
		return err
	}

	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc *bootstrap.ServiceContainer) error {
		job, err := svc.Orchestrator.Get(ctx, opts.ID)
		if err != nil {
			return err
		}
		if opts.RawJSON {
			enc := json.NewEncoder(cmdCtx.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		return printJob(cmdCtx.Out, job, time.Now())
	})
}

func parseJobStatusFlags(args []string) (jobStatusOptions, error) {
	fs := flag.NewFlagSet("job-status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobStatusOptions
	fs.StringVar(&opts.ID, "id", "", "Job ID (required)")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print the job as JSON")

	if err := fs.Parse(args); err != nil {
		return jobStatusOptions{}, err
	}
	if strings.TrimSpace(opts.ID) == "" {
		return jobStatusOptions{}, errors.New("--id is required")
	}
	return opts, nil
}

func printJob(w io.Writer, job *model.Job, now time.Time) error {
	if err := writef(w, "Job %s\n", job.ID); err != nil {
		return err
	}
	if err := writef(w, "  Source:  %s (region %s)\n", job.Source, job.Region); err != nil {
		return err
	}
	if err := writef(w, "  Status:  %s after %d attempt(s)\n", job.Status, job.Attempt); err != nil {
		return err
	}
	if err := writef(w, "  Created: %s\n", humanize.RelTime(job.CreatedAt, now, "ago", "from now")); err != nil {
		return err
	}
	if job.FinishedAt != nil {
		if err := writef(w, "  Finished: %s\n", humanize.RelTime(*job.FinishedAt, now, "ago", "from now")); err != nil {
			return err
		}
	} else if job.Status == model.JobStatusQueued {
		if err := writef(w, "  Next run: %s\n", humanize.RelTime(job.NextRunAt, now, "ago", "from now")); err != nil {
			return err
		}
	}
	if job.Error != nil {
		if err := writef(w, "  Error:   %s\n", *job.Error); err != nil {
			return err
		}
	}
	for i, msg := range job.PreviousErrors {
		if err := writef(w, "  Attempt %d: %s\n", i+1, msg); err != nil {
			return err
		}
	}
	if len(job.ResultPayload) > 0 {
		if err := writef(w, "  Result:  %s\n", job.ResultPayload); err != nil {
			return err
		}
	}
	return nil
}
