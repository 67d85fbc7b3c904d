package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"heroline/internal/app"
	"heroline/internal/config"
	"heroline/internal/db"
	"heroline/internal/domain"
	"heroline/internal/engine"
	"heroline/internal/migrate"
	"heroline/internal/query"
	"heroline/internal/repo"
	"heroline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Heroline CLI",
	Long: `Heroline turns your to-do list into a role-playing character.
Finishing tasks on time feeds your hero health, stamina and experience;
finishing late costs resources; abandoning a task deals flat damage.
Run out of health and your hero is defeated until you climb back with
consecutive completions.`,
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
	viper.SetEnvPrefix("HEROLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "user identifier (defaults to heroline.yml or local-hero)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show your character profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProfile(ctx, e.Config.User.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Hero: %s (level %d)\n", p.UserID, p.Level)
				fmt.Printf("Health:  %d/%d\n", p.Health, p.MaxHealth)
				fmt.Printf("Stamina: %d/%d\n", p.Stamina, p.MaxStamina)
				fmt.Printf("XP:      %d/%d\n", p.Experience, e.Config.Rules.ExpPerLevel)
				fmt.Printf("Tasks completed: %d\n", p.TotalTasksCompleted)
				if p.Defeated() {
					need := e.Config.Rules.RevivalThreshold - p.ConsecutiveTasksCompleted
					fmt.Printf("DEFEATED - complete %d more task(s) to revive\n", need)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskEditCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskRmCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var title, description, priority, category, due string
	var daily bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					UserID:      e.Config.User.ID,
					Title:       title,
					Description: description,
					Priority:    domain.Priority(priority),
					Category:    category,
					DueDate:     due,
					IsDaily:     daily,
				})
				if err != nil {
					return err
				}
				return printJSONOrTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (low, medium, high)")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().BoolVar(&daily, "daily", false, "recurring daily task")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var text, priority, category, status string
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search and list tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := query.Filter{Text: text, Status: query.StatusAll, Page: page}
				if status != "" {
					s := query.Status(status)
					if !s.IsValid() {
						return fmt.Errorf("invalid status %q (all, active, completed, daily)", status)
					}
					f.Status = s
				}
				if priority != "" {
					p := domain.Priority(priority)
					if !p.IsValid() {
						return fmt.Errorf("invalid priority %q", priority)
					}
					f.Priority = &p
				}
				if category != "" {
					f.Category = &category
				}
				result, err := e.QueryTasks(ctx, e.Config.User.ID, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				renderTaskTable(result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&text, "q", "", "text search over title, description and category")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&status, "status", "all", "filter by status (all, active, completed, daily)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTask(t)
			})
		},
	}
	return cmd
}

func taskEditCmd() *cobra.Command {
	var title, description, priority, category, due string
	var daily bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TaskUpdateOptions{ID: args[0], UserID: e.Config.User.ID}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("priority") {
					p := domain.Priority(priority)
					opts.Priority = &p
				}
				if cmd.Flags().Changed("category") {
					opts.Category = &category
				}
				if cmd.Flags().Changed("due") {
					opts.DueDate = &due
				}
				if cmd.Flags().Changed("daily") {
					opts.IsDaily = &daily
				}
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringVar(&category, "category", "", "category (empty clears)")
	cmd.Flags().StringVar(&due, "due", "", "due date RFC3339 (empty clears)")
	cmd.Flags().BoolVar(&daily, "daily", false, "recurring daily task")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Complete a task and collect the reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CompleteTask(ctx, e.Config.User.ID, args[0])
				if err == engine.ErrAlreadyCompleted {
					fmt.Println("already completed; nothing to do")
					return nil
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printCompletion(e, res)
				return nil
			})
		},
	}
	return cmd
}

func taskRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task (abandoning costs health)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeleteTask(ctx, e.Config.User.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Damage > 0 {
					fmt.Printf("Task abandoned: -%d health (%d/%d)\n", res.Damage, res.Profile.Health, res.Profile.MaxHealth)
				} else {
					fmt.Println("Task deleted")
				}
				if res.BecameDefeat {
					fmt.Printf("Your hero is DEFEATED. Complete %d tasks in a row to revive.\n", e.Config.Rules.RevivalThreshold)
				}
				return nil
			})
		},
	}
	return cmd
}

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{Use: "rules", Short: "Manage the progression rule set"}
	rules.AddCommand(rulesShowCmd())
	rules.AddCommand(rulesImportCmd())
	rules.AddCommand(rulesInitCmd())
	return rules
}

func rulesShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the rule set stored in the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
	return cmd
}

func rulesImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a rule set from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertRulesConfig(ctx, e.Config.User.ID, cfg); err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML rules config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rulesInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default heroline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			userID := viper.GetString("user")
			if userID == "" {
				userID = app.DefaultUserID
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(userID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Progression event log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, e.Config.User.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				for i := len(events) - 1; i >= 0; i-- {
					evt := events[i]
					fmt.Printf("%s  %-22s %s %s\n", evt.TS, evt.Type, evt.EntityID, evt.Payload)
				}
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of events")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Heroline HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(e)
				fmt.Printf("listening on %s\n", addr)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
				return srv.ListenAndServe()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8123", "listen address")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveUserAndConfig(ctx, workspace, viper.GetString("user"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	fmt.Printf("%s  [%s] %s\n", t.ID, t.Priority, t.Title)
	if t.Description != "" {
		fmt.Printf("  %s\n", t.Description)
	}
	if t.Category != nil {
		fmt.Printf("  category: %s\n", *t.Category)
	}
	if t.DueDate != nil {
		fmt.Printf("  due: %s\n", *t.DueDate)
	}
	if t.IsCompleted {
		fmt.Println("  completed")
	}
	return nil
}

func renderTaskTable(result query.Page) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Title", "Priority", "Category", "Due", "Status"})
	for _, task := range result.Tasks {
		status := "active"
		if task.IsCompleted {
			status = "completed"
		} else if task.IsDaily {
			status = "daily"
		}
		category := ""
		if task.Category != nil {
			category = *task.Category
		}
		due := ""
		if task.DueDate != nil {
			due = *task.DueDate
		}
		t.AppendRow(table.Row{shortID(task.ID), task.Title, task.Priority, category, due, status})
	}
	t.Render()
	fmt.Printf("page %d/%d (%d tasks)\n", result.Page, max(result.TotalPages, 1), result.FilteredCount)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printCompletion(e engine.Engine, res engine.CompletionResult) {
	if res.Revived {
		fmt.Printf("REVIVED! Health restored to %d/%d\n", res.Profile.Health, res.Profile.MaxHealth)
	} else if res.Profile.Defeated() {
		need := e.Config.Rules.RevivalThreshold - res.RevivalProgress
		fmt.Printf("Task counted toward revival (%d more to go)\n", need)
		return
	}
	timing := "on time"
	if !res.OnTime {
		timing = "late"
	}
	fmt.Printf("Completed %s: %+d health, %+d stamina, %+d xp\n", timing, res.HealthDelta, res.StaminaDelta, res.ExperienceDelta)
	if res.LevelsGained > 0 {
		fmt.Printf("LEVEL UP! Now level %d (fully healed)\n", res.Profile.Level)
	}
	if res.MaxLevelReached {
		fmt.Println("Maximum level reached. Legend status unlocked.")
	}
	fmt.Printf("Health %d/%d  Stamina %d/%d  XP %d/%d\n",
		res.Profile.Health, res.Profile.MaxHealth,
		res.Profile.Stamina, res.Profile.MaxStamina,
		res.Profile.Experience, e.Config.Rules.ExpPerLevel)
}
