package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindline/internal/config"
	"remindline/internal/domain"
	"remindline/internal/engine"
	"remindline/internal/telegram"
)

func configWithToken(token string) *config.Config {
	cfg := config.Default()
	cfg.Telegram.Token = token
	return cfg
}

func message(chatID int64, text string) telegram.Message {
	return telegram.Message{Chat: telegram.Chat{ID: chatID, Username: "ann", FirstName: "Ann"}, Text: text}
}

func TestQuickTaskCreatesTaskForChat(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sched.HandleMessage(env.ctx, message(42, `"Dentist" "12.03.2024 14:30"`)))

	tasks := env.engine.ActiveTasks(env.ctx)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "Dentist", task.Text)
	assert.Equal(t, "2024-03-12T14:30:00", *task.Datetime)
	assert.Equal(t, []int64{42}, task.ChatIDs)
	assert.Contains(t, env.ch.lastText(), "Task created")
	assert.Contains(t, env.ch.lastText(), "12.03.2024 14:30")

	c, err := env.repo.GetContact(env.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "ann", c.Username)
	assert.Equal(t, "Ann", c.Name)
}

func TestQuickTaskRejectsBadDate(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sched.HandleMessage(env.ctx, message(42, `"Dentist" "next week"`)))
	assert.Empty(t, env.engine.ActiveTasks(env.ctx))
	assert.Equal(t, telegram.BadQuickTaskText, env.ch.lastText())
}

func TestCommands(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		text string
		want string
	}{
		{"/start", "Welcome"},
		{"/help", "/mytasks"},
		{"/getid", "`42`"},
		{"/new_task", "10.03.2024 09:45"},
		{"/setname", "/setname Ann"},
		{"hello there", "Choose an action"},
		{"/unknown", "Choose an action"},
	}
	for _, c := range cases {
		require.NoError(t, env.sched.HandleMessage(env.ctx, message(42, c.text)))
		assert.Contains(t, env.ch.lastText(), c.want, c.text)
	}
}

func TestSetNamePersists(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sched.HandleMessage(env.ctx, message(42, "/setname Captain Ann")))
	assert.Contains(t, env.ch.lastText(), "Captain Ann")

	require.NoError(t, env.sched.HandleMessage(env.ctx, message(42, "/mytasks")))
	c, err := env.repo.GetContact(env.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Captain Ann", c.Name)
}

func TestMyTasksListsUpcomingTasksForChatAndGroup(t *testing.T) {
	env := newTestEnv(t)
	env.contact(t, 42, "family")
	env.create(t, engine.TaskCreateOptions{Text: "mine later", Datetime: "2024-03-14T10:00", ChatIDs: []int64{42}})
	env.create(t, engine.TaskCreateOptions{Text: "group soon", Datetime: "2024-03-11T10:00", Group: "family"})
	env.create(t, engine.TaskCreateOptions{Text: "too far", Datetime: "2024-03-30T10:00", ChatIDs: []int64{42}})
	env.create(t, engine.TaskCreateOptions{Text: "past", Datetime: "2024-03-01T10:00", ChatIDs: []int64{42}})
	env.create(t, engine.TaskCreateOptions{Text: "someone else", Datetime: "2024-03-11T10:00", ChatIDs: []int64{7}})
	env.create(t, engine.TaskCreateOptions{Text: "finished", Datetime: "2024-03-11T10:00", ChatIDs: []int64{42}, Completed: true})

	tasks, err := env.sched.UpcomingTasks(env.ctx, 42, env.now)
	require.NoError(t, err)
	var names []string
	for _, task := range tasks {
		names = append(names, task.Text)
	}
	assert.Equal(t, []string{"group soon", "mine later"}, names)

	require.NoError(t, env.sched.HandleMessage(env.ctx, message(42, "/mytasks")))
	out := env.ch.lastText()
	assert.True(t, strings.Index(out, "group soon") < strings.Index(out, "mine later"))
}

func TestUpdateLoopAdvancesOffsetAndRecoversFromConflict(t *testing.T) {
	env := newTestEnv(t)
	env.sched.Config.Cycle = time.Hour
	env.ch.updates = func(call int, offset int64) ([]telegram.Update, error) {
		switch call {
		case 0:
			msg := message(42, "/getid")
			return []telegram.Update{{UpdateID: 10, Message: &msg}, {UpdateID: 11}}, nil
		case 1:
			return nil, domain.Transport("getUpdates", telegram.ErrConflict)
		}
		return nil, nil
	}

	env.sched.Start(env.ctx)
	assert.True(t, env.sched.Running())
	require.Eventually(t, func() bool {
		env.ch.mu.Lock()
		defer env.ch.mu.Unlock()
		return len(env.ch.offsets) >= 3
	}, 2*time.Second, time.Millisecond)
	env.sched.Stop()
	assert.False(t, env.sched.Running())

	env.ch.mu.Lock()
	offsets := append([]int64(nil), env.ch.offsets[:3]...)
	env.ch.mu.Unlock()
	assert.Equal(t, []int64{0, 12, 0}, offsets)
	assert.Contains(t, env.ch.sent()[0].text, "`42`")
}
