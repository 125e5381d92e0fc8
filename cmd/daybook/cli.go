package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli"

	"daybook/internal/app"
	"daybook/internal/reminder"
)

const defaultConfigPath = "./daybook.yaml"

func newCLI() *cli.App {
	a := cli.NewApp()
	a.Name = "daybook"
	a.HelpName = "daybook"
	a.Usage = "planner reminders for events and daily routines"
	a.UsageText = "daybook [--config FILE] <command> [arguments...]"
	a.Version = version
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  defaultConfigPath,
			Usage:  "path to the JSON or YAML config file",
			EnvVar: "DAYBOOK_CONFIG",
		},
	}
	a.Commands = []cli.Command{
		{
			Name:   "daemon",
			Usage:  "run the reminder daemon",
			Action: runDaemon,
		},
		{
			Name:  "event",
			Usage: "manage one-off schedule entries",
			Subcommands: []cli.Command{
				{Name: "add", Usage: "create or update an event", Flags: eventFlags, Action: eventAdd},
				{Name: "rm", Usage: "delete an event and its reminders", ArgsUsage: "ID", Action: eventRemove},
				{Name: "done", Usage: "mark an event done", ArgsUsage: "ID", Action: eventDone},
				{Name: "list", Aliases: []string{"ls"}, Usage: "list events", Action: eventList},
			},
		},
		{
			Name:  "routine",
			Usage: "manage daily routines",
			Subcommands: []cli.Command{
				{Name: "add", Usage: "create or update a routine", Flags: routineFlags, Action: routineAdd},
				{Name: "rm", Usage: "delete a routine and its reminders", ArgsUsage: "ID", Action: routineRemove},
				{Name: "done", Usage: "mark a routine complete for today", ArgsUsage: "ID", Action: routineDone},
				{Name: "list", Aliases: []string{"ls"}, Usage: "list routines", Action: routineList},
			},
		},
		{
			Name:  "snooze",
			Usage: "snooze a pending or fired reminder",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "request-id, r", Usage: "request id shown by 'daybook alarms'"},
				cli.IntFlag{Name: "minutes, m", Usage: "snooze length (default from config)"},
			},
			Action: snooze,
		},
		{
			Name:   "alarms",
			Usage:  "list pending triggers",
			Action: alarms,
		},
		{
			Name:      "export",
			Usage:     "write schedules and routines as JSON",
			ArgsUsage: "[FILE]",
			Action:    exportRecords,
		},
		{
			Name:      "import",
			Usage:     "load schedules and routines from a JSON export",
			ArgsUsage: "FILE",
			Action:    importRecords,
		},
		{
			Name:   "version",
			Usage:  "print build information",
			Action: printVersion,
		},
	}
	a.HideVersion = true
	return a
}

func openApp(c *cli.Context, opts ...app.Option) (*app.App, error) {
	return app.New(c.GlobalString("config"), opts...)
}

func runDaemon(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	a, err := openApp(c)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func snooze(c *cli.Context) error {
	raw := c.Int64("request-id")
	if raw <= 0 {
		return cli.NewExitError("snooze: --request-id is required", 2)
	}
	if raw > math.MaxInt32 {
		return cli.NewExitError(fmt.Sprintf("snooze: invalid request id %d", raw), 2)
	}
	if _, _, err := reminder.DecodeRequestID(int32(raw)); err != nil {
		return cli.NewExitError(fmt.Sprintf("snooze: invalid request id %d", raw), 2)
	}
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Snooze(context.Background(), int32(raw), c.Int("minutes")); err != nil {
		return err
	}
	fmt.Printf("snoozed %d\n", raw)
	return nil
}

func alarms(c *cli.Context) error {
	a, err := openApp(c, app.WithQuietLogs())
	if err != nil {
		return err
	}
	defer a.Close()
	entries, err := a.Alarms(context.Background())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("daybook: no pending alarms")
		return nil
	}
	loc := a.Location()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST ID\tRECORD\tROLE\tAT\tEXACT\tTITLE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%t\t%s\n",
			e.RequestID, e.Payload.RecordID, e.Payload.Role, e.At.In(loc).Format("2006-01-02 15:04"), e.Exact, e.Payload.Title)
	}
	return w.Flush()
}

func exportRecords(c *cli.Context) error {
	var (
		out  io.Writer = os.Stdout
		opts []app.Option
	)
	if path := c.Args().First(); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	} else {
		// stdout carries the document
		opts = append(opts, app.WithQuietLogs())
	}
	a, err := openApp(c, opts...)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Export(context.Background(), out)
}

func importRecords(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("import: FILE is required", 2)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	stats, err := a.Import(context.Background(), f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d schedules, %d routines\n", stats.Schedules, stats.Routines)
	return nil
}

func printVersion(*cli.Context) error {
	fmt.Printf("daybook %s (%s_%s)\n", version, runtime.GOOS, runtime.GOARCH)
	if commit != "" || date != "" {
		fmt.Printf("Build: %s=%s\n", date, commit)
	}
	return nil
}

// idArg parses the first positional argument as a record id.
func idArg(c *cli.Context) (int64, error) {
	raw := c.Args().First()
	if raw == "" {
		return 0, cli.NewExitError(c.Command.Name+": ID is required", 2)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.NewExitError(fmt.Sprintf("%s: invalid id %q", c.Command.Name, raw), 2)
	}
	return id, nil
}
