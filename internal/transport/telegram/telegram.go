// Package telegram delivers reminder notifications to one Telegram chat and
// routes inline-button presses back to the reminder receiver.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"daybook/internal/transport"
	logx "daybook/pkg/logx"
)

// callbackPrefix tags callback data produced by this adapter: "act|<action>|<request id>".
const callbackPrefix = "act"

var ErrBadCallback = errors.New("malformed callback data")

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// Adapter is a transport.Sink backed by telebot.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	handler transport.ActionHandler

	runMu   sync.Mutex
	running bool
}

func New(cfg Config, handler transport.ActionHandler, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log = log.With(logx.String("comp", "telegram"))
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, handler: handler}
	b.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Deliver sends n with an inline keyboard for its actions. telebot calls are
// not context-aware; the worker bounds them with its own timeout.
func (a *Adapter) Deliver(_ context.Context, n transport.Notification) error {
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		ThreadID:              a.cfg.ThreadID,
		DisableWebPagePreview: true,
	}
	if kb := keyboard(n); kb != nil {
		opts.ReplyMarkup = kb
	}
	_, err := a.bot.Send(&tele.Chat{ID: a.cfg.ChatID}, formatText(n), opts)
	return err
}

// Run polls for updates until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return errors.New("telegram adapter already running")
	}
	a.running = true
	a.runMu.Unlock()
	defer func() {
		a.runMu.Lock()
		a.running = false
		a.runMu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.log.Info("polling started", logx.Int64("chat_id", a.cfg.ChatID))
		a.bot.Start() // blocks until Stop
	}()

	select {
	case <-ctx.Done():
	case <-done:
		return errors.New("telegram poller exited")
	}
	a.bot.Stop()

	// Long-poll may still be waiting; do not hold shutdown for long.
	t := time.NewTimer(2 * time.Second)
	defer t.Stop()
	select {
	case <-done:
		a.log.Info("polling stopped")
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
	}
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	if chat := c.Chat(); chat == nil || chat.ID != a.cfg.ChatID {
		return c.Respond(&tele.CallbackResponse{Text: "Not allowed"})
	}
	action, id, err := ParseCallbackData(cb.Data)
	if err != nil {
		a.log.Debug("ignoring foreign callback", logx.String("data", cb.Data))
		return c.Respond()
	}
	if a.handler == nil {
		return c.Respond(&tele.CallbackResponse{Text: "Not available"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.handler.HandleAction(ctx, action, id); err != nil {
		a.log.Warn("callback action failed", logx.String("action", action), logx.Int32("request_id", id), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "Failed: " + err.Error(), ShowAlert: true})
	}
	if m := c.Message(); m != nil {
		if _, err := a.bot.EditReplyMarkup(m, nil); err != nil {
			a.log.Debug("clear keyboard failed", logx.Err(err))
		}
	}
	return c.Respond(&tele.CallbackResponse{Text: ackText(action)})
}

// CallbackData encodes an action button payload.
func CallbackData(action string, requestID int32) string {
	return callbackPrefix + "|" + action + "|" + strconv.FormatInt(int64(requestID), 10)
}

// ParseCallbackData is the inverse of CallbackData.
func ParseCallbackData(s string) (action string, requestID int32, err error) {
	parts := strings.Split(strings.TrimSpace(s), "|")
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[1] == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrBadCallback, s)
	}
	id, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrBadCallback, s)
	}
	return parts[1], int32(id), nil
}

func keyboard(n transport.Notification) *tele.ReplyMarkup {
	if len(n.Actions) == 0 {
		return nil
	}
	row := make([]tele.InlineButton, 0, len(n.Actions))
	for _, act := range n.Actions {
		row = append(row, tele.InlineButton{Text: act.Label, Data: CallbackData(act.ID, n.ID)})
	}
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{row}}
}

func formatText(n transport.Notification) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(n.Title))
	b.WriteString("</b>")
	if body := strings.TrimSpace(n.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(body))
	}
	return b.String()
}

func ackText(action string) string {
	switch action {
	case transport.ActionSnooze:
		return "Snoozed"
	case transport.ActionComplete:
		return "Marked complete"
	default:
		return "OK"
	}
}
