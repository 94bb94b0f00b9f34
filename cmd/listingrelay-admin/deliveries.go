package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/target/listing-relay/internal/bootstrap"
	"github.com/target/listing-relay/internal/domain/model"
)

type listDeliveriesOptions struct {
	Status         string
	All            bool
	EventType      string
	SubscriptionID string
	Since          string
	Limit          int
	Offset         int
}

func runListDeliveries(cmdCtx *commandContext, args []string) error {
	listOpts, err := parseListDeliveriesFlags(args)
	if err != nil {
		return err
	}

	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc *bootstrap.ServiceContainer) error {
		rows, err := svc.Deliveries.List(ctx, listOpts)
		if err != nil {
			return err
		}
		return printDeliveries(cmdCtx.Out, rows, time.Now())
	})
}

func parseListDeliveriesFlags(args []string) (model.DeliveryListOptions, error) {
	fs := flag.NewFlagSet("list-deliveries", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listDeliveriesOptions
	fs.StringVar(&opts.Status, "status", "", "Comma-separated statuses (pending, delivered, failed)")
	fs.BoolVar(&opts.All, "all", false, "Include resolved deliveries and every status")
	fs.StringVar(&opts.EventType, "event", "", "Filter by event type")
	fs.StringVar(&opts.SubscriptionID, "subscription", "", "Filter by subscription ID")
	fs.StringVar(&opts.Since, "since", "", "Only deliveries created at or after this RFC3339 time")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum rows to print")
	fs.IntVar(&opts.Offset, "offset", 0, "Rows to skip")

	if err := fs.Parse(args); err != nil {
		return model.DeliveryListOptions{}, err
	}
	return opts.toListOptions()
}

func (o listDeliveriesOptions) toListOptions() (model.DeliveryListOptions, error) {
	if o.Limit < 1 || o.Offset < 0 {
		return model.DeliveryListOptions{}, errors.New("--limit must be positive and --offset non-negative")
	}
	out := model.DeliveryListOptions{
		EventType:      strings.TrimSpace(o.EventType),
		SubscriptionID: strings.TrimSpace(o.SubscriptionID),
		Limit:          o.Limit,
		Offset:         o.Offset,
	}

	switch {
	case o.Status != "":
		for part := range strings.SplitSeq(o.Status, ",") {
			var status model.DeliveryStatus
			if err := status.UnmarshalText([]byte(part)); err != nil {
				return model.DeliveryListOptions{}, err
			}
			out.Statuses = append(out.Statuses, status)
		}
		out.Unresolved = !o.All
	case !o.All:
		out.Statuses = []model.DeliveryStatus{model.DeliveryStatusFailed}
		out.Unresolved = true
	}

	since, err := parseSince(o.Since)
	if err != nil {
		return model.DeliveryListOptions{}, err
	}
	out.Since = since
	return out, nil
}

func parseSince(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--since must be RFC3339: %w", err)
	}
	return &t, nil
}

func printDeliveries(w io.Writer, rows []*model.DeliveryAttempt, now time.Time) error {
	if len(rows) == 0 {
		return writef(w, "No deliveries found.\n")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tSUBSCRIPTION\tEVENT\tSTATUS\tATTEMPTS\tHTTP\tCREATED\tLAST ERROR\n"); err != nil {
		return err
	}
	for _, d := range rows {
		status := string(d.Status)
		if d.IsResolved && d.Status != model.DeliveryStatusDelivered {
			status += " (resolved)"
		}
		httpStatus := "-"
		if d.ResponseStatus != nil {
			httpStatus = fmt.Sprint(*d.ResponseStatus)
		}
		lastErr := "-"
		if d.LastError != nil {
			lastErr = *d.LastError
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			d.ID, d.SubscriptionID, d.EventType, status, d.AttemptCount, httpStatus,
			humanize.RelTime(d.CreatedAt, now, "ago", "from now"), lastErr,
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func parseIDFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var id string
	fs.StringVar(&id, "id", "", "Delivery ID (required)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if id = strings.TrimSpace(id); id == "" {
		return "", errors.New("--id is required")
	}
	return id, nil
}

type singleDeliveryFn func(ctx context.Context, svc *bootstrap.ServiceContainer, id string) (*model.DeliveryAttempt, error)

func runSingleDelivery(name string, fn singleDeliveryFn) commandFn {
	return func(cmdCtx *commandContext, args []string) error {
		id, err := parseIDFlag(name, args)
		if err != nil {
			return err
		}
		return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc *bootstrap.ServiceContainer) error {
			row, err := fn(ctx, svc, id)
			if err != nil {
				return err
			}
			return printDeliveries(cmdCtx.Out, []*model.DeliveryAttempt{row}, time.Now())
		})
	}
}

func runRetryDelivery(cmdCtx *commandContext, args []string) error {
	return runSingleDelivery("retry-delivery", func(ctx context.Context, svc *bootstrap.ServiceContainer, id string) (*model.DeliveryAttempt, error) {
		return svc.Deliveries.Retry(ctx, id)
	})(cmdCtx, args)
}

func runReplayDelivery(cmdCtx *commandContext, args []string) error {
	return runSingleDelivery("replay-delivery", func(ctx context.Context, svc *bootstrap.ServiceContainer, id string) (*model.DeliveryAttempt, error) {
		return svc.Deliveries.Replay(ctx, id)
	})(cmdCtx, args)
}

func runResolveDelivery(cmdCtx *commandContext, args []string) error {
	return runSingleDelivery("resolve-delivery", func(ctx context.Context, svc *bootstrap.ServiceContainer, id string) (*model.DeliveryAttempt, error) {
		return svc.Deliveries.Resolve(ctx, id)
	})(cmdCtx, args)
}

func runRetryAll(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("retry-all", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	timeout := fs.Duration("timeout", 10*time.Minute, "Maximum duration for the whole run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withServices(cmdCtx, *timeout, func(ctx context.Context, svc *bootstrap.ServiceContainer) error {
		res, err := svc.Deliveries.RetryAll(ctx)
		if err != nil {
			return err
		}
		return printBulkResult(cmdCtx.Out, "retry-all", res)
	})
}

type replayAllOptions struct {
	EventType      string
	SubscriptionID string
	Since          string
	Timeout        time.Duration
}

func runReplayAll(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("replay-all", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts replayAllOptions
	fs.StringVar(&opts.EventType, "event", "", "Only replay this event type")
	fs.StringVar(&opts.SubscriptionID, "subscription", "", "Only replay deliveries to this subscription")
	fs.StringVar(&opts.Since, "since", "", "Only replay deliveries created at or after this RFC3339 time")
	fs.DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "Maximum duration for the whole run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	since, err := parseSince(opts.Since)
	if err != nil {
		return err
	}
	filter := model.ReplayFilter{
		EventType:      strings.TrimSpace(opts.EventType),
		SubscriptionID: strings.TrimSpace(opts.SubscriptionID),
		Since:          since,
	}

	return withServices(cmdCtx, opts.Timeout, func(ctx context.Context, svc *bootstrap.ServiceContainer) error {
		res, err := svc.Deliveries.ReplayAll(ctx, filter)
		if err != nil {
			return err
		}
		return printBulkResult(cmdCtx.Out, "replay-all", res)
	})
}

func printBulkResult(w io.Writer, name string, res model.BulkDeliveryResult) error {
	return writef(w, "%s: %s attempted, %s delivered, %s failed, %s skipped\n",
		name,
		humanize.Comma(int64(res.Attempted)),
		humanize.Comma(int64(res.Delivered)),
		humanize.Comma(int64(res.Failed)),
		humanize.Comma(int64(res.Skipped)),
	)
}
