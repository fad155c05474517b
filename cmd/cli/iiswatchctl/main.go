package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/control"
	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	URL     string        `long:"url" default:"http://127.0.0.1:8090" description:"control API base url"`
	Timeout time.Duration `long:"timeout" default:"30s" description:"request timeout"`
	Verbose bool          `long:"verbose" short:"v" description:"log requests"`
	Wait    bool          `long:"wait" description:"wait for an enqueued operation to finish"`
}

const usage = `commands:
  sites | apppools                 list monitored entities
  get <site|apppool> <name>        show one entity
  start|stop|recycle <site|apppool> <name>
  operations | operation <id>      list or show control operations
  discover <site|apppool>          list entities known to the host
  refresh | stats | logs [count]
  monitor-start | monitor-stop`

func main() {
	var opts flagOptions
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	parser.Usage = "[options] command [args]\n\n" + usage
	args, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}
	if len(args) == 0 {
		fmt.Println(usage)
		os.Exit(1)
	}

	logger := logging.NewNopLogger()
	exit := os.Exit
	if opts.Verbose {
		backend, err := logging.NewBackend(logging.BackendConfig{
			Level:       "debug",
			Format:      "console",
			Stderr:      true,
			RecentLines: 1,
		})
		if err != nil {
			fmt.Printf("Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		logger = backend.Logger("module: iiswatch-client , ")
		exit = func(code int) {
			backend.Close()
			os.Exit(code)
		}
	}

	gateway, err := control.NewClientGateway(control.ClientOptions{URL: opts.URL, Timeout: opts.Timeout, Logger: logger})
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		exit(1)
	}

	if err := run(context.Background(), gateway, opts, args); err != nil {
		fmt.Printf("Error: %v\n", err)
		if domainErr, ok := err.(*errors.DomainError); ok && domainErr.Remediation() != "" {
			fmt.Printf("Remediation: %s\n", domainErr.Remediation())
		}
		exit(1)
	}
	exit(0)
}

func parseKindArg(args []string, index int) (domain.EntityKind, error) {
	if len(args) <= index {
		return "", errors.NewValidationError("entity kind is required", nil)
	}
	kind, err := domain.ParseEntityKind(args[index])
	if err != nil {
		return "", errors.NewValidationError(err.Error(), nil)
	}
	return kind, nil
}

func nameArg(args []string, index int) (string, error) {
	if len(args) <= index {
		return "", errors.NewValidationError("entity name is required", nil)
	}
	return args[index], nil
}

func run(ctx context.Context, gateway *control.ClientGateway, opts flagOptions, args []string) error {
	command := args[0]
	switch command {
	case "sites", "apppools":
		var statuses []domain.EntityStatus
		var err error
		if command == "sites" {
			statuses, err = gateway.ListSites(ctx)
		} else {
			statuses, err = gateway.ListAppPools(ctx)
		}
		if err != nil {
			return err
		}
		printStatuses(statuses)
		return nil

	case "get":
		kind, err := parseKindArg(args, 1)
		if err != nil {
			return err
		}
		name, err := nameArg(args, 2)
		if err != nil {
			return err
		}
		status, err := gateway.GetEntity(ctx, kind, name)
		if err != nil {
			return err
		}
		printStatuses([]domain.EntityStatus{status})
		if status.LastError != "" {
			fmt.Printf("Last error: %s\n", status.LastError)
		}
		if r := status.Restart; r != nil {
			fmt.Printf("Auto-restart: %s, attempts in window: %d, breaker open: %t", r.Phase, r.Attempts, r.BreakerOpen)
			if !r.ScheduledAt.IsZero() {
				fmt.Printf(", scheduled at: %s", formatTime(r.ScheduledAt))
			}
			fmt.Println()
		}
		return nil

	case "start", "stop", "recycle":
		kind, err := parseKindArg(args, 1)
		if err != nil {
			return err
		}
		name, err := nameArg(args, 2)
		if err != nil {
			return err
		}
		id, err := gateway.Enqueue(ctx, kind, name, domain.Operation(command))
		if err != nil {
			return err
		}
		fmt.Printf("Operation accepted: %s\n", id)
		if !opts.Wait {
			return nil
		}
		return waitOperation(ctx, gateway, id)

	case "operations":
		ops, err := gateway.ListOperations(ctx)
		if err != nil {
			return err
		}
		printOperations(ops)
		return nil

	case "operation":
		if len(args) < 2 {
			return errors.NewValidationError("operation id is required", nil)
		}
		op, err := gateway.OperationStatus(ctx, args[1])
		if err != nil {
			return err
		}
		printOperations([]domain.PendingOperation{op})
		return nil

	case "discover":
		kind, err := parseKindArg(args, 1)
		if err != nil {
			return err
		}
		entities, err := gateway.Discover(ctx, kind)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tMONITORED\tAPP POOL\tDETAIL")
		for _, entity := range entities {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", entity.Name, entity.State, entity.Monitored, entity.AppPool, entity.Detail)
		}
		return w.Flush()

	case "refresh":
		if err := gateway.Refresh(ctx); err != nil {
			return err
		}
		fmt.Println("Refresh requested")
		return nil

	case "stats":
		stats, err := gateway.Stats(ctx)
		if err != nil {
			return err
		}
		printStats(stats)
		return nil

	case "logs":
		count := 0
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &count); err != nil {
				return errors.NewValidationError(fmt.Sprintf("invalid count: %s", args[1]), err)
			}
		}
		lines, err := gateway.RecentLogs(ctx, count)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil

	case "monitor-start":
		if err := gateway.Start(ctx); err != nil {
			return err
		}
		fmt.Println("Monitoring started")
		return nil

	case "monitor-stop":
		if err := gateway.Stop(ctx); err != nil {
			return err
		}
		fmt.Println("Monitoring stopped")
		return nil
	}

	return errors.NewValidationError(fmt.Sprintf("unknown command: %s", command), nil).WithContext("usage", usage)
}

func waitOperation(ctx context.Context, gateway *control.ClientGateway, id string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		op, err := gateway.OperationStatus(ctx, id)
		if err != nil {
			return err
		}
		if !op.Status.Active() {
			printOperations([]domain.PendingOperation{op})
			if op.Status == domain.OperationStatusFailed {
				if op.Remediation != "" {
					fmt.Printf("Remediation: %s\n", op.Remediation)
				}
				return errors.NewProcessError("operation failed", nil).WithContext("operation_id", id)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.NewCancelledError("wait cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printStatuses(statuses []domain.EntityStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tFAILURES\tCHECKS\tLAST CHECKED\tLAST ERROR")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", s.Name, s.State, s.ConsecutiveFailureCount, s.TotalChecks, formatTime(s.LastCheckedAt), s.LastError)
	}
	w.Flush()
}

func printOperations(ops []domain.PendingOperation) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tOPERATION\tSOURCE\tSTATUS\tREQUESTED\tERROR")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", op.ID, op.Kind, op.Name, op.Operation, op.Source, op.Status, formatTime(op.RequestedAt), op.Error)
	}
	w.Flush()
}

func printStats(stats domain.MonitorStats) {
	fmt.Printf("Running:         %t\n", stats.Running)
	fmt.Printf("Started at:      %s\n", formatTime(stats.StartedAt))
	fmt.Printf("Uptime:          %v\n", (time.Duration(stats.UptimeSeconds) * time.Second).String())
	fmt.Printf("Last cycle:      %s\n", formatTime(stats.LastCycleAt))
	fmt.Printf("Check interval:  %v\n", stats.CheckInterval)
	fmt.Printf("Auto-restart:    %t\n", stats.AutoRestartsOn)
	fmt.Printf("Tool available:  %t\n", stats.ToolAvailable)
	fmt.Printf("Total checks:    %d\n", stats.TotalChecks)
	fmt.Printf("Total failures:  %d\n", stats.TotalFailures)
	fmt.Printf("Total restarts:  %d\n", stats.TotalRestarts)
	days := make([]string, 0, len(stats.DailyChecks))
	for day := range stats.DailyChecks {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		fmt.Printf("  %s: checks %d, failures %d, restarts %d\n", day, stats.DailyChecks[day], stats.DailyFailures[day], stats.DailyRestarts[day])
	}
}
