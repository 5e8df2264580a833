package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"remindline/internal/domain"
	"remindline/internal/engine"
	"remindline/internal/repo"
	"remindline/internal/telegram"
)

const upcomingWindow = 7 * 24 * time.Hour

// HandleMessage records the sender in the contact book and answers one
// inbound message.
func (s *Scheduler) HandleMessage(ctx context.Context, msg telegram.Message) error {
	chatID := msg.Chat.ID
	now := s.now()
	if s.Contacts != nil {
		err := s.Contacts.RecordContact(ctx, domain.Contact{
			ChatID:    chatID,
			Username:  msg.Chat.Username,
			Name:      msg.Chat.DisplayName(),
			Text:      msg.Text,
			Timestamp: now.UTC().Format(time.RFC3339),
		})
		if err != nil {
			s.logger().Warn("record contact failed", "chat_id", chatID, "err", err)
		}
	}

	cmd, args := telegram.ParseCommand(msg.Text)
	switch cmd {
	case "start":
		return s.Channel.Send(ctx, chatID, telegram.WelcomeText)
	case "help":
		return s.Channel.Send(ctx, chatID, telegram.HelpText)
	case "getid":
		return s.Channel.Send(ctx, chatID, fmt.Sprintf("Your chat id: `%d`", chatID))
	case "setname":
		return s.setName(ctx, chatID, args)
	case "mytasks":
		tasks, err := s.UpcomingTasks(ctx, chatID, now)
		if err != nil {
			return err
		}
		return s.Channel.Send(ctx, chatID, telegram.FormatTaskList(tasks, s.location()))
	case "new_task":
		return s.Channel.Send(ctx, chatID, telegram.NewTaskHelp(now.In(s.location())))
	case "":
		if telegram.IsQuickTask(msg.Text) {
			return s.quickTask(ctx, chatID, msg.Text)
		}
	}
	return s.Channel.Send(ctx, chatID, telegram.MenuText)
}

func (s *Scheduler) setName(ctx context.Context, chatID int64, name string) error {
	if name == "" {
		return s.Channel.Send(ctx, chatID, "Add the name after the command, for example:\n/setname Ann")
	}
	if s.Contacts != nil {
		if _, err := s.Contacts.UpdateContact(ctx, chatID, &name, nil); err != nil {
			return fmt.Errorf("set name: %w", err)
		}
	}
	return s.Channel.Send(ctx, chatID, fmt.Sprintf("Name '%s' saved.", telegram.Escape(name)))
}

func (s *Scheduler) quickTask(ctx context.Context, chatID int64, text string) error {
	title, at, err := telegram.ParseQuickTask(text, s.location())
	if err != nil {
		return s.Channel.Send(ctx, chatID, telegram.BadQuickTaskText)
	}
	task, err := s.Engine.CreateTask(ctx, engine.TaskCreateOptions{
		Text:         title,
		Datetime:     at.Format("2006-01-02T15:04:05"),
		ReminderTime: domain.Ptr(0),
		ChatIDs:      []int64{chatID},
		ActorID:      fmt.Sprintf("telegram:%d", chatID),
	})
	if err != nil {
		s.logger().Warn("create task from chat failed", "chat_id", chatID, "err", err)
		return s.Channel.Send(ctx, chatID, "Could not create the task: "+telegram.Escape(err.Error()))
	}
	return s.Channel.Send(ctx, chatID, telegram.TaskCreatedText(task, at))
}

// UpcomingTasks lists open tasks addressed to chatID, directly or through
// its group, that are due within the next seven days.
func (s *Scheduler) UpcomingTasks(ctx context.Context, chatID int64, now time.Time) ([]domain.Task, error) {
	var group string
	if s.Contacts != nil {
		c, err := s.Contacts.Resolve(ctx, chatID)
		switch {
		case err == nil:
			group = c.Group
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
	}
	loc := s.location()
	type dated struct {
		task domain.Task
		at   time.Time
	}
	var matched []dated
	for _, t := range s.Engine.ActiveTasks(ctx) {
		if t.Completed || t.Datetime == nil {
			continue
		}
		mine := slices.Contains(t.ChatIDs, chatID) || (group != "" && t.Group != nil && *t.Group == group)
		if !mine {
			continue
		}
		at, _, err := domain.ParseInstant(*t.Datetime, loc)
		if err != nil || at.Before(now) || at.After(now.Add(upcomingWindow)) {
			continue
		}
		matched = append(matched, dated{t, at})
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].at.Before(matched[j].at) })
	out := make([]domain.Task, len(matched))
	for i, m := range matched {
		out[i] = m.task
	}
	return out, nil
}
