package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"remindline/internal/app"
	"remindline/internal/config"
	"remindline/internal/db"
	"remindline/internal/domain"
	"remindline/internal/engine"
	"remindline/internal/scheduler"
	"remindline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "remindline CLI",
	Long: `remindline keeps a tree of tasks and reminds the right chats before they are due.
- Tasks: text, optional due datetime, category, subtasks (parent_id) and dependencies; completing a task requires its dependencies and direct subtasks to be completed.
- Archive: completed tasks move to the archive together with their whole subtree; ids are never reused.
- Recurrence: a completed task with repeat_interval spawns its next occurrence when the next date is due, bounded by repeat_count and repeat_until.
- Reminders: 'rl serve' polls Telegram and sends a reminder reminder_time minutes before the due datetime to the task's chats or group.
- Event log: every change is recorded; view with 'rl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REMINDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindEnv("telegram-token")
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(repeatCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(contactCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "remindline.yml holds the storage driver, timezone, default categories, Telegram settings, reminder cycle, HTTP server and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default remindline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg.Telegram.Token != "" {
				cfg.Telegram.Token = "***"
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate remindline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks form a forest through parent ids. Dependencies must be completed before a task can be.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskTreeCmd())
	task.AddCommand(taskSubtasksCmd())
	task.AddCommand(taskCanCompleteCmd())
	task.AddCommand(taskAttachCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var reminder, repeatCount int
	var parent int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("reminder") {
				opts.ReminderTime = &reminder
			}
			if cmd.Flags().Changed("repeat-count") {
				opts.RepeatCount = &repeatCount
			}
			if cmd.Flags().Changed("parent") {
				opts.ParentID = &parent
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Text, "text", "", "task text")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().StringVar(&opts.Datetime, "at", "", "due datetime, e.g. 2025-03-01T09:00")
	cmd.Flags().IntVar(&reminder, "reminder", 0, "minutes before the due datetime to remind")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent task id")
	cmd.Flags().Int64SliceVar(&opts.Dependencies, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().Int64SliceVar(&opts.ChatIDs, "chat", nil, "chat id to remind (repeatable)")
	cmd.Flags().StringVar(&opts.Group, "group", "", "contact group to remind")
	cmd.Flags().StringVar(&opts.RepeatInterval, "repeat", "", "repeat interval (day, week, month, quarter, year)")
	cmd.Flags().IntVar(&repeatCount, "repeat-count", 0, "total occurrences")
	cmd.Flags().StringVar(&opts.RepeatUntil, "repeat-until", "", "last date for occurrences")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.TaskFilter
	var parent int64
	var completed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("parent") {
				f.ParentID = &parent
			}
			if cmd.Flags().Changed("completed") {
				f.Completed = &completed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&f.Date, "date", "", "calendar day YYYY-MM-DD")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent task id")
	cmd.Flags().BoolVar(&completed, "completed", false, "completion filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var (
		text, description, category, datetime, group string
		interval, until                             string
		reminder, repeatCount                       int
		parent                                      int64
		deps, chats                                 []int64
		completed                                   bool
		clearReminder, clearParent, clearCount      bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task; empty strings clear optional fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts := engine.TaskUpdateOptions{
				ID:               id,
				ActorID:          viper.GetString("actor-id"),
				ClearReminder:    clearReminder,
				ClearParent:      clearParent,
				ClearRepeatCount: clearCount,
			}
			flags := cmd.Flags()
			for name, target := range map[string]struct {
				dst **string
				val *string
			}{
				"text":         {&opts.Text, &text},
				"description":  {&opts.Description, &description},
				"category":     {&opts.Category, &category},
				"at":           {&opts.Datetime, &datetime},
				"group":        {&opts.Group, &group},
				"repeat":       {&opts.RepeatInterval, &interval},
				"repeat-until": {&opts.RepeatUntil, &until},
			} {
				if flags.Changed(name) {
					*target.dst = target.val
				}
			}
			if flags.Changed("reminder") {
				opts.ReminderTime = &reminder
			}
			if flags.Changed("repeat-count") {
				opts.RepeatCount = &repeatCount
			}
			if flags.Changed("parent") {
				opts.ParentID = &parent
			}
			if flags.Changed("depends-on") {
				opts.Dependencies = &deps
			}
			if flags.Changed("chat") {
				opts.ChatIDs = &chats
			}
			if flags.Changed("completed") {
				opts.Completed = &completed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "task text")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&datetime, "at", "", "due datetime")
	cmd.Flags().StringVar(&group, "group", "", "contact group")
	cmd.Flags().StringVar(&interval, "repeat", "", "repeat interval")
	cmd.Flags().StringVar(&until, "repeat-until", "", "last date for occurrences")
	cmd.Flags().IntVar(&reminder, "reminder", 0, "minutes before the due datetime")
	cmd.Flags().IntVar(&repeatCount, "repeat-count", 0, "total occurrences")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent task id")
	cmd.Flags().Int64SliceVar(&deps, "depends-on", nil, "replace dependencies")
	cmd.Flags().Int64SliceVar(&chats, "chat", nil, "replace chat ids")
	cmd.Flags().BoolVar(&completed, "completed", false, "completion state")
	cmd.Flags().BoolVar(&clearReminder, "clear-reminder", false, "remove the reminder")
	cmd.Flags().BoolVar(&clearParent, "clear-parent", false, "make the task a root")
	cmd.Flags().BoolVar(&clearCount, "clear-repeat-count", false, "remove the occurrence limit")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			done := true
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{ID: id, Completed: &done, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and all its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.CascadeDelete(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"deleted": ids})
			})
		},
	}
}

func taskSubtasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subtasks <id>",
		Short: "List direct subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Subtasks(ctx, id)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
}

func taskCanCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can-complete <id>",
		Short: "Check whether dependencies and subtasks are done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.CanComplete(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": id, "can_complete": ok})
			})
		},
	}
}

func taskAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id> <file>",
		Short: "Attach a file to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fd, err := e.AttachFile(ctx, id, filepath.Base(args[1]), f, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(fd)
			})
		},
	}
}

func taskTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks := e.ActiveTasks(ctx)
				ids := map[int64]bool{}
				for _, t := range tasks {
					ids[t.ID] = true
				}
				nodes := map[int64][]domain.Task{}
				var roots []domain.Task
				for _, t := range tasks {
					if t.ParentID != nil && ids[*t.ParentID] {
						nodes[*t.ParentID] = append(nodes[*t.ParentID], t)
					} else {
						roots = append(roots, t)
					}
				}
				if viper.GetBool("json") {
					type Node struct {
						Task     domain.Task `json:"task"`
						Children []Node      `json:"children,omitempty"`
					}
					var build func(t domain.Task) Node
					build = func(t domain.Task) Node {
						var childNodes []Node
						for _, c := range nodes[t.ID] {
							childNodes = append(childNodes, build(c))
						}
						return Node{Task: t, Children: childNodes}
					}
					var treeNodes []Node
					for _, r := range roots {
						treeNodes = append(treeNodes, build(r))
					}
					return printJSON(treeNodes)
				}
				for i, r := range roots {
					printTaskTree(r, nodes, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
}

func archiveCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "archive",
		Short: "Archive completed tasks",
		Long:  "Archiving moves every completed task and its whole subtree out of the active list.",
	}
	a.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Archive completed tasks now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.ArchiveCompleted(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"archived": ids})
			})
		},
	})
	a.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListArchived(ctx, engine.TaskFilter{})
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	})
	a.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Permanently delete an archived task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteArchived(ctx, id, viper.GetString("actor-id"))
			})
		},
	})
	return a
}

func repeatCmd() *cobra.Command {
	r := &cobra.Command{Use: "repeat", Short: "Recurring tasks"}
	r.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Generate due occurrences of recurring tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ProcessRepeating(ctx, e.CurrentTime(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"created": n})
			})
		},
	})
	return r
}

func remindCmd() *cobra.Command {
	r := &cobra.Command{Use: "remind", Short: "Reminders"}
	r.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Run one recurrence and reminder cycle against Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			return withRuntime(cmd.Context(), log, func(ctx context.Context, rt *app.Runtime) error {
				applyEnvOverrides(rt.Config)
				sched, err := scheduler.FromConfig(rt.Config, rt.Engine, rt.Repo, rt.Engine.Files, log)
				if err != nil {
					return err
				}
				n := sched.RunCycle(ctx)
				return printJSONOrTable(map[string]any{"reminded": n})
			})
		},
	})
	return r
}

func categoryCmd() *cobra.Command {
	c := &cobra.Command{Use: "category", Short: "Manage categories"}
	printCategories := func(ctx context.Context, e engine.Engine) error {
		cats, err := e.ListCategories(ctx)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printJSON(cats)
		}
		for i, name := range cats {
			fmt.Printf("%d. %s\n", i+1, name)
		}
		return nil
	}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), printCategories)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.AddCategory(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				return printCategories(ctx, e)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an unused category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteCategory(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				return printCategories(ctx, e)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "rename <from> <to>",
		Short: "Rename a category and retag its tasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RenameCategory(ctx, args[0], args[1], viper.GetString("actor-id")); err != nil {
					return err
				}
				return printCategories(ctx, e)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "reorder <name>...",
		Short: "Set the display order; every category must be listed once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ReorderCategories(ctx, args, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printCategories(ctx, e)
			})
		},
	})
	return c
}

func contactCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "contact",
		Short: "Chats known to the bot",
		Long:  "Contacts are recorded when a chat writes to the bot. A group name lets one task remind every member.",
	}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), newLogger(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Repo.ListContacts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Chat ID", "Username", "Name", "Group", "Last seen"})
				for _, ct := range items {
					tw.AppendRow(table.Row{ct.ChatID, ct.Username, ct.Name, ct.Group, ct.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	})
	var name, group string
	set := &cobra.Command{
		Use:   "set <chat-id>",
		Short: "Set a contact's name or group; an empty group clears it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var namePtr, groupPtr *string
			if cmd.Flags().Changed("name") {
				namePtr = &name
			}
			if cmd.Flags().Changed("group") {
				groupPtr = &group
			}
			return withRuntime(cmd.Context(), newLogger(), func(ctx context.Context, rt *app.Runtime) error {
				ct, err := rt.Repo.UpdateContact(ctx, id, namePtr, groupPtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(ct)
			})
		},
	}
	set.Flags().StringVar(&name, "name", "", "display name")
	set.Flags().StringVar(&group, "group", "", "group name")
	c.AddCommand(set)
	c.AddCommand(&cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Forget a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), newLogger(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Repo.DeleteContact(ctx, id)
			})
		},
	})
	return c
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Replace active tasks with a JSON array of tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var tasks []domain.Task
			if err := json.Unmarshal(data, &tasks); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ImportTasks(ctx, tasks, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"imported": n})
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write active tasks as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks := e.ActiveTasks(ctx)
				if tasks == nil {
					tasks = []domain.Task{}
				}
				b, err := json.MarshalIndent(tasks, "", "  ")
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Println(string(b))
					return nil
				}
				return os.WriteFile(out, b, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every task change, archive run, occurrence and reminder is recorded here.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), newLogger(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, reminder scheduler and Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newJSONLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, log, func(ctx context.Context, rt *app.Runtime) error {
				applyEnvOverrides(rt.Config)
				if !cmd.Flags().Changed("addr") && rt.Config.Server.Addr != "" {
					addr = rt.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && rt.Config.Server.BasePath != "" {
					basePath = rt.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: rt.Engine, Repo: rt.Repo, BasePath: basePath, Log: log})
				if err != nil {
					return err
				}

				sched, err := scheduler.FromConfig(rt.Config, rt.Engine, rt.Repo, rt.Engine.Files, log)
				switch {
				case errors.Is(err, scheduler.ErrNoCredential):
					log.Warn("telegram token not set; reminders and bot disabled")
				case err != nil:
					return err
				default:
					sched.Start(ctx)
					defer sched.Stop()
				}
				server.StartWebhooks(ctx, rt.Repo, rt.Config.Webhooks, log)

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving remindline API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

func applyEnvOverrides(cfg *config.Config) {
	if token := viper.GetString("telegram-token"); token != "" {
		cfg.Telegram.Token = token
	}
}

// newLogger writes text logs to stderr; serve switches to JSON lines.
func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, logOptions()))
}

func newJSONLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, logOptions()))
}

func logOptions() *slog.HandlerOptions {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return &slog.HandlerOptions{Level: level}
}

func withRuntime(ctx context.Context, log *slog.Logger, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"), log)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, newLogger(), func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Text", "Done", "Due", "Category", "Parent", "Repeat"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Text, t.Completed, deref(t.Datetime), deref(t.Category), derefID(t.ParentID), derefInterval(t.RepeatInterval)})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTaskTree(t domain.Task, children map[int64][]domain.Task, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	mark := " "
	if t.Completed {
		mark = "x"
	}
	fmt.Printf("%s%s[%s] #%d %s\n", prefix, connector, mark, t.ID, t.Text)
	for i, c := range children[t.ID] {
		printTaskTree(c, children, newPrefix, i == len(children[t.ID])-1)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func derefInterval(ri *domain.RepeatInterval) string {
	if ri == nil {
		return ""
	}
	return string(*ri)
}
