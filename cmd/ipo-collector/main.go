// Command ipo-collector runs one incremental collection of day-0 and day-1
// prices for newly listed issues and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"ipocli/internal/app"
	"ipocli/internal/config"
	apperrors "ipocli/internal/errors"
	"ipocli/internal/infrastructure"
	"ipocli/internal/operations"
)

const dateLayout = "2006-01-02"

type options struct {
	configFile string
	job        string
	start      string
	end        string
	full       bool
	entities   string
	format     string
	sheets     bool
	clearCache bool
	showRuns   bool
	resetRuns  bool
	jsonOutput bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("ipo-collector", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.configFile, "config", "", "YAML configuration file (default: IPO_CONFIG_FILE or ./config.yaml)")
	fs.StringVar(&o.job, "job", "", "job name; overrides collector.job_name")
	fs.StringVar(&o.start, "start", "", "first day to collect (YYYY-MM-DD); does not move the last-run mark")
	fs.StringVar(&o.end, "end", "", "exclusive last day (YYYY-MM-DD); defaults to today")
	fs.BoolVar(&o.full, "full", false, "ignore the last-run mark and collect from the default start")
	fs.StringVar(&o.entities, "entities", "", "CSV of listings (code,name,listing_date) used instead of upstream discovery")
	fs.StringVar(&o.format, "format", "", "export format: csv | xlsx | both")
	fs.BoolVar(&o.sheets, "sheets", false, "also publish the table to Google Sheets")
	fs.BoolVar(&o.clearCache, "clear-cache", false, "remove every cached response and exit")
	fs.BoolVar(&o.showRuns, "show-runs", false, "print the last successful run of every job and exit")
	fs.BoolVar(&o.resetRuns, "reset-runs", false, "forget the last run of -job (or every job) and exit")
	fs.BoolVar(&o.jsonOutput, "json", false, "print the run result as JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.full && o.start != "" {
		return nil, errors.New("-full and -start cannot be combined")
	}
	return o, nil
}

func (o *options) runOptions(loc *time.Location) (operations.RunOptions, error) {
	var ro operations.RunOptions
	ro.Full = o.full
	if o.start != "" {
		t, err := time.ParseInLocation(dateLayout, o.start, loc)
		if err != nil {
			return ro, fmt.Errorf("invalid -start: %w", err)
		}
		ro.Start = t
	}
	if o.end != "" {
		t, err := time.ParseInLocation(dateLayout, o.end, loc)
		if err != nil {
			return ro, fmt.Errorf("invalid -end: %w", err)
		}
		ro.End = t
	}
	if !ro.Start.IsZero() && !ro.End.IsZero() && !ro.Start.Before(ro.End) {
		return ro, errors.New("-end must be after -start")
	}
	return ro, nil
}

func (o *options) apply(cfg *config.Config) {
	if o.job != "" {
		cfg.Collector.JobName = o.job
	}
	if o.format != "" {
		cfg.Export.Format = o.format
	}
	if o.sheets {
		cfg.Sheets.Enabled = true
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes failures an operator must fix from transient ones
func exitCode(err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case apperrors.IsFatal(err):
		return 3
	case errors.Is(err, context.Canceled):
		return 130
	}
	return 1
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return err
	}
	o.apply(cfg)

	logger, closer, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closer.Close()

	a, err := app.New(ctx, cfg, logger, app.Options{EntitiesFile: o.entities})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	switch {
	case o.clearCache:
		removed, err := a.Cache.ClearAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Removed %d cached responses\n", removed)
		return nil
	case o.showRuns:
		return printRuns(a, stdout)
	case o.resetRuns:
		if err := a.Tracker.Reset(ctx, o.job); err != nil {
			return err
		}
		if o.job == "" {
			fmt.Fprintln(stdout, "Forgot the last run of every job")
		} else {
			fmt.Fprintf(stdout, "Forgot the last run of %s\n", o.job)
		}
		return nil
	}

	ro, err := o.runOptions(time.Local)
	if err != nil {
		return err
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	result, err := a.Runner.RunSync(ctx, a.Job.Name(), ro)
	if result != nil {
		if o.jsonOutput {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(result); encErr != nil {
				return encErr
			}
		} else {
			printResult(stdout, result)
		}
	}
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func printRuns(a *app.Application, w io.Writer) error {
	runs, err := a.Tracker.All()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs")
		return nil
	}
	names := make([]string, 0, len(runs))
	for name := range runs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := runs[name]
		fmt.Fprintf(w, "%-20s through %s (recorded %s)\n", name, r.LastRunDate, r.LastRunTimestamp.Format(time.RFC3339))
	}
	return nil
}

func printResult(w io.Writer, r *operations.RunResult) {
	if r.UpToDate {
		fmt.Fprintf(w, "%s is already up to date (through %s)\n", r.Job, r.Start)
		return
	}
	fmt.Fprintf(w, "Job:       %s [%s]\n", r.Job, r.Status)
	fmt.Fprintf(w, "Window:    %s to %s\n", r.Start, r.End)
	fmt.Fprintf(w, "Entities:  %d (%d deferred)\n", r.Entities, r.Deferred)
	if r.Report != nil {
		fmt.Fprintf(w, "Keys:      %d fetched, %d cached, %d failed\n",
			r.Report.FetchedKeys, r.Report.CachedKeys, r.Report.FailedKeys)
	}
	if r.Export != nil {
		fmt.Fprintf(w, "Exported:  %d rows to %v\n", r.Export.Rows, r.Export.Files)
	}
	endpoints := make([]string, 0, len(r.Usage))
	for name := range r.Usage {
		endpoints = append(endpoints, name)
	}
	sort.Strings(endpoints)
	for _, name := range endpoints {
		u := r.Usage[name]
		fmt.Fprintf(w, "Quota:     %s %d/%d (%d left)\n", name, u.Count, u.Quota, u.Remaining)
	}
	if r.RecordedThrough != "" {
		fmt.Fprintf(w, "Recorded:  through %s\n", r.RecordedThrough)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.Error)
	}
}
