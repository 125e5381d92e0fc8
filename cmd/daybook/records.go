package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"daybook/internal/app"
	"daybook/internal/domain"
)

// startLayouts are accepted for --start besides RFC 3339; they are read in
// the configured timezone.
var startLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04"}

var (
	eventFlags = []cli.Flag{
		cli.Int64Flag{Name: "id", Usage: "update the event with this id"},
		cli.StringFlag{Name: "title, t", Usage: "event title"},
		cli.StringFlag{Name: "start, s", Usage: "start time, RFC 3339 or \"YYYY-MM-DD HH:MM\""},
		cli.StringFlag{Name: "description, d", Usage: "optional notes"},
		cli.IntFlag{Name: "lead, l", Usage: "remind this many minutes before the start (0 disables)"},
	}
	routineFlags = []cli.Flag{
		cli.Int64Flag{Name: "id", Usage: "update the routine with this id"},
		cli.StringFlag{Name: "title, t", Usage: "routine title"},
		cli.StringFlag{Name: "at, a", Usage: "daily time HH:MM (empty: no trigger)"},
		cli.StringFlag{Name: "description, d", Usage: "optional notes"},
		cli.IntFlag{Name: "lead, l", Usage: "remind this many minutes before (0 disables)"},
	}
)

// parseStart normalizes s to RFC 3339.
func parseStart(s string, loc *time.Location) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.RFC3339), nil
	}
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("invalid start %q: want RFC 3339 or YYYY-MM-DD HH:MM", s)
}

func eventAdd(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	start, err := parseStart(c.String("start"), a.Location())
	if err != nil {
		return cli.NewExitError("event add: "+err.Error(), 2)
	}
	lead := c.Int("lead")
	e, err := a.SaveEvent(context.Background(), domain.TimedEvent{
		ID:                  c.Int64("id"),
		Title:               c.String("title"),
		Description:         c.String("description"),
		Start:               start,
		ReminderEnabled:     lead > 0,
		ReminderLeadMinutes: lead,
	})
	if err != nil {
		return err
	}
	fmt.Printf("event %d saved\n", e.ID)
	return nil
}

func eventRemove(c *cli.Context) error {
	return withID(c, func(ctx context.Context, a *app.App, id int64) error {
		return a.RemoveEvent(ctx, id)
	}, "event %d removed\n")
}

func eventDone(c *cli.Context) error {
	return withID(c, func(ctx context.Context, a *app.App, id int64) error {
		return a.CompleteEvent(ctx, id)
	}, "event %d done\n")
}

func eventList(c *cli.Context) error {
	a, err := openApp(c, app.WithQuietLogs())
	if err != nil {
		return err
	}
	defer a.Close()
	events, err := a.Events(context.Background())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("daybook: no events")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTART\tLEAD\tDONE\tTITLE")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", e.ID, e.Start, leadText(e.ReminderEnabled, e.ReminderLeadMinutes), e.Done, e.Title)
	}
	return w.Flush()
}

func routineAdd(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	lead := c.Int("lead")
	r, err := a.SaveRoutine(context.Background(), domain.RecurringRoutine{
		ID:                  c.Int64("id"),
		Title:               c.String("title"),
		Description:         c.String("description"),
		TimeOfDay:           c.String("at"),
		ReminderEnabled:     lead > 0,
		ReminderLeadMinutes: lead,
	})
	if err != nil {
		return err
	}
	fmt.Printf("routine %d saved\n", r.ID)
	return nil
}

func routineRemove(c *cli.Context) error {
	return withID(c, func(ctx context.Context, a *app.App, id int64) error {
		return a.RemoveRoutine(ctx, id)
	}, "routine %d removed\n")
}

func routineDone(c *cli.Context) error {
	return withID(c, func(ctx context.Context, a *app.App, id int64) error {
		return a.CompleteRoutine(ctx, id)
	}, "routine %d completed for today\n")
}

func routineList(c *cli.Context) error {
	a, err := openApp(c, app.WithQuietLogs())
	if err != nil {
		return err
	}
	defer a.Close()
	routines, err := a.Routines(context.Background())
	if err != nil {
		return err
	}
	if len(routines) == 0 {
		fmt.Println("daybook: no routines")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAT\tLEAD\tLAST DONE\tTITLE")
	for _, r := range routines {
		at := r.TimeOfDay
		if at == "" {
			at = "-"
		}
		last := r.LastCompleted
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, at, leadText(r.ReminderEnabled, r.ReminderLeadMinutes), last, r.Title)
	}
	return w.Flush()
}

func withID(c *cli.Context, fn func(ctx context.Context, a *app.App, id int64) error, done string) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := fn(context.Background(), a, id); err != nil {
		return err
	}
	fmt.Printf(done, id)
	return nil
}

func leadText(enabled bool, minutes int) string {
	if !enabled || minutes <= 0 {
		return "off"
	}
	return fmt.Sprintf("%dm", minutes)
}
