package telegram

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindline/internal/domain"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func TestParseCommand(t *testing.T) {
	cmd, args := ParseCommand("/setname@remind_bot  Ann Smith ")
	assert.Equal(t, "setname", cmd)
	assert.Equal(t, "Ann Smith", args)

	cmd, _ = ParseCommand("/MyTasks")
	assert.Equal(t, "mytasks", cmd)

	cmd, _ = ParseCommand("hello")
	assert.Empty(t, cmd)
}

func TestParseQuickTask(t *testing.T) {
	loc := time.UTC
	text, at, err := ParseQuickTask(`"Buy milk" "25.07.2025 15:30"`, loc)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", text)
	assert.Equal(t, time.Date(2025, 7, 25, 15, 30, 0, 0, loc), at)

	_, _, err = ParseQuickTask(`"Buy milk" "tomorrow"`, loc)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = ParseQuickTask(`"only title"`, loc)
	require.ErrorIs(t, err, domain.ErrValidation)

	assert.True(t, IsQuickTask(`"a" "b"`))
	assert.False(t, IsQuickTask(`just "one`))
}

func TestFormatTask(t *testing.T) {
	interval := domain.RepeatWeek
	task := domain.Task{
		Text:           "pay_rent",
		Category:       domain.Ptr("Home"),
		Datetime:       domain.Ptr("2025-03-01T09:00"),
		ReminderTime:   domain.Ptr(15),
		RepeatInterval: &interval,
		RepeatCount:    domain.Ptr(4),
		Files:          []domain.FileDescriptor{{ID: "f"}},
	}
	out := FormatReminder(task, time.UTC)
	assert.True(t, strings.HasPrefix(out, "*Reminder:*"))
	assert.Contains(t, out, `pay\_rent`)
	assert.Contains(t, out, "*Due:* 01.03.2025 09:00")
	assert.Contains(t, out, "*Reminder:* 15 min before")
	assert.Contains(t, out, "*Repeats:* Weekly")
	assert.Contains(t, out, "*Occurrences:* 4")
	assert.Contains(t, out, "*Attachments:* 1")
}

func TestFormatTaskListEmpty(t *testing.T) {
	assert.Equal(t, "You have no tasks for the coming week.", FormatTaskList(nil, time.UTC))
	out := FormatTaskList([]domain.Task{{Text: "a"}, {Text: "b"}}, time.UTC)
	assert.Contains(t, out, "1. *Task:* a")
	assert.Contains(t, out, "2. *Task:* b")
}
