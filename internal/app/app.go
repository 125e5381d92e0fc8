package app

import (
	"context"
	"errors"
	"io/fs"

	"daybook/internal/alarm"
	"daybook/internal/clock"
	"daybook/internal/config"
	"daybook/internal/eventbus"
	"daybook/internal/notifier"
	"daybook/internal/reminder"
	rtsup "daybook/internal/runtime/supervisor"
	"daybook/internal/storage"
	"daybook/internal/transport/telegram"
	logx "daybook/pkg/logx"
)

// App wires the record store, the reminder scheduler and its delivery path.
// CLI commands use it directly; Run turns it into the long-running daemon.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	clk  clock.Clock
	bus  eventbus.Bus

	store     storage.Store
	storePath string
	table     *alarm.Table
	sched     *reminder.Scheduler
	recv      *reminder.Receiver
	notif     *notifier.Service
	disp      *alarm.Dispatcher

	tg  *telegram.Adapter
	sup *rtsup.Supervisor
}

type options struct {
	clock clock.Clock
	quiet bool
}

type Option func(*options)

// WithClock replaces the wall clock used for scheduling.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithQuietLogs discards log output (CLI commands that print their own results).
func WithQuietLogs() Option { return func(o *options) { o.quiet = true } }

// New loads cfgPath and opens the store. A missing config file means defaults.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = clock.SystemClock{}
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = &config.Config{}
	case err != nil:
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	var (
		logSvc *logx.Service
		log    logx.Logger
	)
	if o.quiet {
		log = logx.Nop()
	} else {
		logSvc, log = logx.New(mapLoggingConfig(cfg))
	}
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}

	rcfg, _ := mapSchedulerConfig(cfg)
	ncfg, _ := mapNotifierConfig(cfg)
	interval, _ := mapSyncInterval(cfg)

	bus := eventbus.New()
	table := alarm.NewTable(store, bus, log, cfg.ExactAlarms())
	notif := notifier.New(ncfg, log, bus, notifier.NewLogSink(log))
	sched := reminder.New(rcfg, table, notif, o.clock, log)
	recv := reminder.NewReceiver(sched, store, log)
	disp := alarm.NewDispatcher(table, recv.OnFire, o.clock, bus, log, interval)
	table.OnChange(disp.Kick)

	return &App{
		cfgm:      cfgm,
		cfg:       cfg,
		log:       appLog,
		logs:      logSvc,
		clk:       o.clock,
		bus:       bus,
		store:     store,
		storePath: sc.FilePath(),
		table:     table,
		sched:     sched,
		recv:      recv,
		notif:     notif,
		disp:      disp,
	}, nil
}

// Close releases the store and log file. Run calls it on shutdown.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// actionHandler routes chat button presses to the receiver and reports them on the bus.
type actionHandler struct {
	recv *reminder.Receiver
	bus  eventbus.Bus
	clk  clock.Clock
}

func (h actionHandler) HandleAction(ctx context.Context, action string, requestID int32) error {
	err := h.recv.HandleAction(ctx, action, requestID)
	ev := eventbus.ActionEvent{Action: action, RequestID: requestID}
	if err != nil {
		ev.Err = err.Error()
	}
	h.bus.Publish(eventbus.Event{Type: eventbus.ActionHandled, Time: h.clk.Now(), Data: ev})
	return err
}
