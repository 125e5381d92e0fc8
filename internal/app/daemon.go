package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"daybook/internal/config"
	rtsup "daybook/internal/runtime/supervisor"
	"daybook/internal/transport/telegram"
	logx "daybook/pkg/logx"
)

// Run starts the daemon and blocks until ctx is done or a supervised
// component fails. The store is closed on return.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return err
	}
	reason := StopSignal
	select {
	case <-ctx.Done():
	case <-a.sup.Context().Done():
		reason = StopFatalError
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Stop(stopCtx, reason)
	err := a.sup.Err()
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	tcfg, enabled, err := mapTelegramConfig(a.cfg)
	if err != nil {
		return err
	}
	if enabled {
		tg, err := telegram.New(tcfg, actionHandler{recv: a.recv, bus: a.bus, clk: a.clk}, a.log)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.tg = tg
		a.notif.AddSink(tg)
		a.sup.GoRestart("telegram.poll", tg.Run)
	}

	a.notif.Start(a.sup.Context())
	a.reschedule(a.sup.Context(), false)
	a.sup.Go("alarm.dispatch", a.disp.Run)
	// CLI processes write the same store
	a.sup.GoRestart("alarm.watch", func(c context.Context) error { return a.disp.WatchStore(c, a.storePath) })

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// keep only the latest
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("daemon started", logx.Bool("telegram", a.tg != nil), logx.Bool("exact_alarms", a.table.CanRegisterExact()))
	return nil
}

// applyConfig applies the live-reloadable sections of cfg.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	sections := config.Changed(a.cfg, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.cfg = cfg

	if a.logs != nil && slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(cfg))
	}
	if rcfg, err := mapSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(rcfg)
	}
	a.table.SetExact(cfg.ExactAlarms())
	if d, err := mapSyncInterval(cfg); err != nil {
		a.log.Warn("invalid alarm config; keeping previous", logx.Err(err))
	} else {
		a.disp.SetInterval(d)
	}

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	for _, s := range sections {
		if s == "storage" || s == "telegram" {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// Stop shuts components down in dependency order. Each step is bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) {
	if a.sup == nil {
		return
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error {
		if err := a.sup.Stop(c); err != nil && c.Err() != nil {
			return err
		}
		return nil
	})
	a.log.Info("stopped")
}
