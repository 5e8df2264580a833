package telegram

import (
	"fmt"
	"strings"
	"time"

	"remindline/internal/domain"
)

// QuickTaskLayout is the date format accepted in quoted task messages.
const QuickTaskLayout = "02.01.2006 15:04"

var intervalLabels = map[domain.RepeatInterval]string{
	domain.RepeatDay:     "Daily",
	domain.RepeatWeek:    "Weekly",
	domain.RepeatMonth:   "Monthly",
	domain.RepeatQuarter: "Quarterly",
	domain.RepeatYear:    "Yearly",
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// Escape protects user text from the legacy Markdown parser.
func Escape(s string) string {
	return markdownEscaper.Replace(s)
}

// FormatTask renders a task as a Markdown block.
func FormatTask(t domain.Task, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Task:* %s\n", Escape(t.Text))
	if t.Description != "" {
		fmt.Fprintf(&b, "\n*Description:*\n%s\n", Escape(t.Description))
	}
	if t.Category != nil {
		fmt.Fprintf(&b, "\n*Category:* %s\n", Escape(*t.Category))
	}
	if t.Datetime != nil {
		when := *t.Datetime
		if at, _, err := domain.ParseInstant(when, loc); err == nil {
			when = at.In(loc).Format(QuickTaskLayout)
		}
		fmt.Fprintf(&b, "\n*Due:* %s\n", Escape(when))
	}
	if t.ReminderTime != nil && *t.ReminderTime > 0 {
		fmt.Fprintf(&b, "\n*Reminder:* %d min before\n", *t.ReminderTime)
	}
	if t.Group != nil {
		fmt.Fprintf(&b, "\n*Group:* %s\n", Escape(*t.Group))
	}
	if n := len(t.Files); n > 0 {
		fmt.Fprintf(&b, "\n*Attachments:* %d\n", n)
	}
	if t.RepeatInterval != nil {
		label, ok := intervalLabels[*t.RepeatInterval]
		if !ok {
			label = string(*t.RepeatInterval)
		}
		fmt.Fprintf(&b, "\n*Repeats:* %s\n", label)
		if t.RepeatCount != nil {
			fmt.Fprintf(&b, "*Occurrences:* %d\n", *t.RepeatCount)
		}
		if t.RepeatUntil != nil {
			fmt.Fprintf(&b, "*Until:* %s\n", Escape(*t.RepeatUntil))
		}
	}
	return b.String()
}

func FormatReminder(t domain.Task, loc *time.Location) string {
	return "*Reminder:*\n\n" + FormatTask(t, loc)
}

// FormatTaskList numbers tasks for the /mytasks reply.
func FormatTaskList(tasks []domain.Task, loc *time.Location) string {
	if len(tasks) == 0 {
		return "You have no tasks for the coming week."
	}
	var b strings.Builder
	b.WriteString("*Your tasks for the coming week:*\n\n")
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, FormatTask(t, loc))
	}
	return b.String()
}

const WelcomeText = "Welcome to remindline!\n\nI keep track of your tasks and send reminders before they are due.\nSend /help to see what I can do."

const HelpText = "*Commands*:\n\n" +
	"/new\\_task - how to create a task\n" +
	"/mytasks - tasks for the coming week\n" +
	"/setname - set your display name\n" +
	"/getid - show your chat id\n" +
	"/help - show this message\n\n" +
	"*Quick task*:\n\"Title\" \"dd.mm.yyyy hh:mm\"\n" +
	"Example: \"Meeting\" \"25.07.2025 15:30\""

const MenuText = "Choose an action: /new\\_task, /mytasks, /setname, /getid or /help."

const BadQuickTaskText = "Could not read that task. Use the format:\n\"Task title\" \"dd.mm.yyyy hh:mm\""

// NewTaskHelp explains quoted creation with an example for now.
func NewTaskHelp(now time.Time) string {
	return fmt.Sprintf("*New task*\n\nSend a message in the format:\n\"Task title\" \"date and time\"\n\n"+
		"Quotes are required. Dates use dd.mm.yyyy hh:mm.\n\nExample:\n\"My task\" \"%s\"", now.Format(QuickTaskLayout))
}

func TaskCreatedText(t domain.Task, at time.Time) string {
	return fmt.Sprintf("Task created:\n\n*%s*\nDue *%s*", Escape(t.Text), at.Format(QuickTaskLayout))
}

// ParseCommand splits "/cmd@bot args" into a lower-case command and the rest.
// Text that is not a command yields an empty command.
func ParseCommand(text string) (string, string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	cmd := strings.TrimPrefix(parts[0], "/")
	if idx := strings.Index(cmd, "@"); idx >= 0 {
		cmd = cmd[:idx]
	}
	cmd = strings.ToLower(cmd)
	if len(parts) == 1 {
		return cmd, ""
	}
	return cmd, strings.TrimSpace(parts[1])
}

// IsQuickTask reports whether text looks like an attempt at quoted creation.
func IsQuickTask(text string) bool {
	return strings.Count(text, `"`) >= 2
}

// ParseQuickTask reads `"title" "dd.mm.yyyy hh:mm"` in loc.
func ParseQuickTask(text string, loc *time.Location) (string, time.Time, error) {
	var parts []string
	for _, p := range strings.Split(text, `"`) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", time.Time{}, domain.Invalid("expected a quoted title and a quoted date")
	}
	at, err := time.ParseInLocation(QuickTaskLayout, parts[1], loc)
	if err != nil {
		return "", time.Time{}, domain.Invalid("date must look like dd.mm.yyyy hh:mm")
	}
	return parts[0], at, nil
}
