package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"remindline/internal/config"
	"remindline/internal/domain"
	"remindline/internal/engine"
	"remindline/internal/files"
	"remindline/internal/telegram"
)

// ErrNoCredential means no bot token is configured.
var ErrNoCredential = errors.New("scheduler: telegram token is not configured")

// Notifier delivers reminder text and attachments to one chat.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendAttachment(ctx context.Context, chatID int64, fd domain.FileDescriptor) error
}

// Updater long-polls inbound messages.
type Updater interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Channel is a two way messaging endpoint.
type Channel interface {
	Notifier
	Updater
}

// Directory resolves recipients.
type Directory interface {
	Resolve(ctx context.Context, chatID int64) (domain.Contact, error)
	ResolveGroup(ctx context.Context, name string) ([]int64, error)
}

// Contacts is the directory plus the writes inbound messages make.
type Contacts interface {
	Directory
	RecordContact(ctx context.Context, c domain.Contact) error
	UpdateContact(ctx context.Context, chatID int64, name, group *string) (domain.Contact, error)
}

type Config struct {
	Cycle         time.Duration
	PollTimeout   time.Duration
	PollInterval  time.Duration
	ConflictPause time.Duration
	ErrorBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cycle:         time.Minute,
		PollTimeout:   30 * time.Second,
		PollInterval:  5 * time.Second,
		ConflictPause: 5 * time.Second,
		ErrorBackoff:  5 * time.Second,
	}
}

func ConfigFrom(cfg *config.Config) Config {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	out := DefaultConfig()
	if cfg.Reminders.CycleSeconds > 0 {
		out.Cycle = cfg.ReminderCycle()
	}
	if cfg.Telegram.PollTimeoutSeconds > 0 {
		out.PollTimeout = sec(cfg.Telegram.PollTimeoutSeconds)
	}
	if cfg.Telegram.PollIntervalSeconds > 0 {
		out.PollInterval = sec(cfg.Telegram.PollIntervalSeconds)
	}
	if cfg.Telegram.ConflictPauseSeconds > 0 {
		out.ConflictPause = sec(cfg.Telegram.ConflictPauseSeconds)
	}
	if cfg.Telegram.ErrorBackoffSeconds > 0 {
		out.ErrorBackoff = sec(cfg.Telegram.ErrorBackoffSeconds)
	}
	return out
}

// Scheduler runs the reminder loop and the update ingestion loop against
// the shared task store.
type Scheduler struct {
	Engine   engine.Engine
	Channel  Channel
	Contacts Contacts
	Config   Config
	Log      *slog.Logger
	Now      func() time.Time

	// lifecycle guards cancel and wg across Start and Stop.
	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu   sync.Mutex
	sent map[int64]struct{}
}

func New(e engine.Engine, ch Channel, contacts Contacts, cfg Config) *Scheduler {
	return &Scheduler{
		Engine:   e,
		Channel:  ch,
		Contacts: contacts,
		Config:   cfg,
		Now:      time.Now,
		sent:     make(map[int64]struct{}),
	}
}

// FromConfig wires a telegram channel from cfg. It returns ErrNoCredential
// when no token is set.
func FromConfig(cfg *config.Config, e engine.Engine, contacts Contacts, fileStore files.Store, log *slog.Logger) (*Scheduler, error) {
	if cfg.Telegram.Token == "" {
		return nil, ErrNoCredential
	}
	client := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIURL)
	s := New(e, telegram.NewChannel(client, fileStore), contacts, ConfigFrom(cfg))
	s.Log = log
	return s, nil
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) location() *time.Location {
	if s.Engine.Location != nil {
		return s.Engine.Location
	}
	return time.Local
}

// Start launches both loops. A second Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running.Load() {
		s.logger().Info("scheduler already running")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	s.running.Store(true)
	go func() {
		defer s.wg.Done()
		s.runReminders(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runUpdates(ctx)
	}()
	s.logger().Info("scheduler started", "cycle", s.Config.Cycle.String())
}

// Stop flips the running flag, wakes sleeping loops and waits for both to
// return. Bot API calls already in flight are not cancelled; they finish or
// hit their own timeout.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.cancel()
	s.wg.Wait()
	s.logger().Info("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) runReminders(ctx context.Context) {
	work := context.WithoutCancel(ctx)
	for s.running.Load() {
		s.RunCycle(work)
		if !sleep(ctx, s.Config.Cycle) {
			return
		}
	}
}

// RunCycle expands due recurrences and dispatches due reminders once.
func (s *Scheduler) RunCycle(ctx context.Context) int {
	now := s.now()
	if n, err := s.Engine.ProcessRepeating(ctx, now, "scheduler"); err != nil {
		s.logger().Error("process repeating failed", "err", err)
	} else if n > 0 {
		s.logger().Info("recurring occurrences created", "count", n)
	}
	return s.CheckReminders(ctx, now)
}

// CheckReminders sends every reminder whose window contains now and returns
// how many tasks were dispatched. A task is reminded at most once per
// process, whatever the delivery outcome.
func (s *Scheduler) CheckReminders(ctx context.Context, now time.Time) int {
	loc := s.location()
	dispatched := 0
	for _, t := range s.Engine.ActiveTasks(ctx) {
		if t.Completed || t.Datetime == nil || t.ReminderTime == nil {
			continue
		}
		at, _, err := domain.ParseInstant(*t.Datetime, loc)
		if err != nil {
			continue
		}
		instant := at.Add(-time.Duration(*t.ReminderTime) * time.Minute)
		if now.Before(instant) || now.After(instant.Add(s.Config.Cycle)) {
			continue
		}
		if s.wasSent(t.ID) {
			continue
		}
		recipients := s.recipients(ctx, t)
		if len(recipients) == 0 {
			continue
		}
		if !s.claim(t.ID) {
			continue
		}
		s.dispatch(ctx, t, recipients, loc)
		dispatched++
	}
	return dispatched
}

func (s *Scheduler) wasSent(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[id]
	return ok
}

// claim records id as sent and reports whether this caller got it first.
func (s *Scheduler) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[int64]struct{})
	}
	if _, ok := s.sent[id]; ok {
		return false
	}
	s.sent[id] = struct{}{}
	return true
}

func (s *Scheduler) recipients(ctx context.Context, t domain.Task) []int64 {
	if len(t.ChatIDs) > 0 {
		return t.ChatIDs
	}
	if t.Group == nil || s.Contacts == nil {
		return nil
	}
	ids, err := s.Contacts.ResolveGroup(ctx, *t.Group)
	if err != nil {
		s.logger().Warn("resolve group failed", "group", *t.Group, "task_id", t.ID, "err", err)
		return nil
	}
	return ids
}

func (s *Scheduler) dispatch(ctx context.Context, t domain.Task, recipients []int64, loc *time.Location) {
	text := telegram.FormatReminder(t, loc)
	delivered := 0
	for _, chatID := range recipients {
		if err := s.Channel.Send(ctx, chatID, text); err != nil {
			s.logger().Warn("send reminder failed", "task_id", t.ID, "chat_id", chatID, "err", err)
			continue
		}
		delivered++
		for _, fd := range t.Files {
			if err := s.Channel.SendAttachment(ctx, chatID, fd); err != nil {
				s.logger().Warn("send attachment failed", "task_id", t.ID, "chat_id", chatID, "file", fd.Name, "err", err)
			}
		}
	}
	s.logger().Info("reminder sent", "task_id", t.ID, "recipients", len(recipients), "delivered", delivered)
	err := s.Engine.Events.Append(ctx, "reminder.sent", "task", strconv.FormatInt(t.ID, 10), "scheduler", map[string]any{
		"recipients": recipients,
		"delivered":  delivered,
	})
	if err != nil {
		s.logger().Warn("append event failed", "type", "reminder.sent", "task_id", t.ID, "err", err)
	}
}

func (s *Scheduler) runUpdates(ctx context.Context) {
	work := context.WithoutCancel(ctx)
	var offset int64
	for s.running.Load() {
		updates, err := s.Channel.GetUpdates(work, offset, s.Config.PollTimeout)
		if err != nil {
			if !s.running.Load() {
				return
			}
			if errors.Is(err, telegram.ErrConflict) {
				s.logger().Warn("getUpdates conflict, resetting offset", "pause", s.Config.ConflictPause.String())
				offset = 0
				if !sleep(ctx, s.Config.ConflictPause) {
					return
				}
				continue
			}
			s.logger().Error("getUpdates failed", "err", err)
			if !sleep(ctx, s.Config.ErrorBackoff) {
				return
			}
			continue
		}
		for _, upd := range updates {
			offset = upd.UpdateID + 1
			if upd.Message == nil || upd.Message.Text == "" {
				continue
			}
			if err := s.HandleMessage(work, *upd.Message); err != nil {
				s.logger().Warn("handle message failed", "chat_id", upd.Message.Chat.ID, "err", err)
			}
		}
		if !sleep(ctx, s.Config.PollInterval) {
			return
		}
	}
}
