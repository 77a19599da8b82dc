package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"task-planner/internal/bot"
	"task-planner/internal/model"
	"task-planner/internal/server"
	"task-planner/internal/service"
)

// NewRootCommand builds the CLI with every subcommand attached.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "taskplanner",
		Short:         "Task planner with time slots and reminders",
		Long:          "taskplanner stores tasks with time slots, reminds owners before a task starts and completes tasks once their slot has ended.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewDispatchCommand())
	rootCmd.AddCommand(NewAutoCompleteCommand())
	rootCmd.AddCommand(NewUpcomingCommand())
	rootCmd.AddCommand(NewUserCommand())
	return rootCmd
}

func load(cmd *cobra.Command) (*app, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return newApp(configFile, cmd.OutOrStdout())
}

// NewDispatchCommand creates the reminder dispatcher command.
func NewDispatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch-reminders",
		Short: "Send reminders that are due",
		Long:  "Send every unsent reminder whose time has come, optionally limited to the last N minutes. Runs once unless --every is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			opts := service.DispatchOptions{WindowMinutes: a.cfg.Dispatcher.WindowMinutes}
			if cmd.Flags().Changed("window-minutes") {
				opts.WindowMinutes, _ = cmd.Flags().GetInt("window-minutes")
			}
			opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
			every, _ := cmd.Flags().GetDuration("every")

			if every > 0 {
				return a.dispatcher.Run(cmd.Context(), every, opts)
			}
			_, err = a.dispatcher.RunOnce(cmd.Context(), opts)
			return err
		},
	}

	cmd.Flags().Int("window-minutes", 0, "Only send reminders scheduled within the last N minutes (0 = all overdue)")
	cmd.Flags().Bool("dry-run", false, "Show what would be sent without sending or recording anything")
	cmd.Flags().Duration("every", 0, "Keep running and dispatch at this interval (e.g. 1m)")
	return cmd
}

// NewAutoCompleteCommand creates the auto-completion poller command.
func NewAutoCompleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto-complete",
		Short: "Complete tasks whose time slot has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			once, _ := cmd.Flags().GetBool("once")
			out := cmd.OutOrStdout()

			if once {
				summary, err := a.completer.RunOnce(cmd.Context(), dryRun)
				if err != nil {
					return err
				}
				if summary.Completed == 0 && !summary.Skipped {
					fmt.Fprintln(out, "No tasks to auto-complete")
				}
				return nil
			}

			interval := a.cfg.Poller.PollInterval()
			if cmd.Flags().Changed("interval-seconds") {
				seconds, _ := cmd.Flags().GetInt("interval-seconds")
				if seconds < 1 {
					return errors.New("--interval-seconds must be at least 1")
				}
				interval = time.Duration(seconds) * time.Second
			}
			return a.completer.Run(cmd.Context(), service.PollOptions{
				Interval:     interval,
				CycleTimeout: a.cfg.Poller.CycleTimeout,
				DryRun:       dryRun,
			})
		},
	}

	cmd.Flags().Int("interval-seconds", 15, "Polling interval in seconds")
	cmd.Flags().Bool("once", false, "Run a single pass and exit")
	cmd.Flags().Bool("dry-run", false, "Show what would be completed without updating the database")
	return cmd
}

// NewUpcomingCommand creates the upcoming deadlines report command.
func NewUpcomingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List open tasks with a deadline in the next hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, _ := cmd.Flags().GetInt("hours")
			if hours < 1 {
				return errors.New("--hours must be at least 1")
			}
			userID, _ := cmd.Flags().GetUint("user-id")

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			tasks, now, err := a.report.Upcoming(cmd.Context(), userID, time.Duration(hours)*time.Hour)
			if err != nil {
				return err
			}
			a.report.Write(cmd.OutOrStdout(), tasks, now, hours)
			return nil
		},
	}

	cmd.Flags().Int("hours", 24, "Look-ahead window in hours")
	cmd.Flags().Uint("user-id", 0, "Limit to one user (0 = everyone)")
	return cmd
}

// NewUserCommand creates the user management command.
func NewUserCommand() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
	}

	createUserCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			telegramID, _ := cmd.Flags().GetInt64("telegram-id")
			email, _ := cmd.Flags().GetString("email")
			firstName, _ := cmd.Flags().GetString("first-name")
			if telegramID == 0 && email == "" {
				return errors.New("either --telegram-id or --email is required")
			}

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			user := &model.User{TelegramID: telegramID, Email: email, FirstName: firstName}
			if err := a.users.Create(cmd.Context(), user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user id=%d (%s)\n", user.ID, user.DisplayName())
			return nil
		},
	}

	createUserCmd.Flags().Int64("telegram-id", 0, "Telegram chat id of the user")
	createUserCmd.Flags().String("email", "", "User email")
	createUserCmd.Flags().String("first-name", "", "User first name")

	userCmd.AddCommand(createUserCmd)
	return userCmd
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Telegram bot and the background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetBool("workers")

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return runServe(cmd.Context(), a, workers)
		},
	}

	cmd.Flags().Bool("workers", true, "Also run the reminder dispatcher and the auto-complete poller")
	return cmd
}

func runServe(ctx context.Context, a *app, workers bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	spawn := func(name string, run func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Errorw("component stopped", "component", name, "error", err)
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
			}
		}()
	}

	srv := server.New(a.cfg, a.db, a.tasks, a.report, a.metrics, a.log)
	spawn("http", srv.Start)

	if a.telegram != nil {
		tgBot := bot.New(a.telegram, bot.Options{
			Users:        a.users,
			Tasks:        a.tasks,
			Report:       a.report,
			Clock:        a.clock,
			Location:     a.loc,
			DigestWindow: time.Duration(a.cfg.Telegram.DigestHours) * time.Hour,
			Logger:       a.log,
		})
		spawn("bot", func() error { return tgBot.Start(ctx) })

		if a.cfg.Telegram.DigestTime != "" {
			digest := service.NewSchedulerService(a.loc, a.log)
			if _, err := digest.ScheduleDaily(a.cfg.Telegram.DigestTime, func() {
				jobCtx, jobCancel := context.WithTimeout(context.Background(), time.Minute)
				defer jobCancel()
				if err := tgBot.SendDailyDigest(jobCtx); err != nil {
					a.log.Errorw("daily digest", "error", err)
				}
			}); err != nil {
				return fmt.Errorf("schedule digest: %w", err)
			}
			digest.Start()
			defer digest.Stop()
		}
	}

	if workers {
		spawn("dispatcher", func() error {
			return a.dispatcher.Run(ctx, a.cfg.Dispatcher.Every, service.DispatchOptions{
				WindowMinutes: a.cfg.Dispatcher.WindowMinutes,
			})
		})
		spawn("auto-complete", func() error {
			return a.completer.Run(ctx, service.PollOptions{
				Interval:     a.cfg.Poller.PollInterval(),
				CycleTimeout: a.cfg.Poller.CycleTimeout,
			})
		})
	}

	a.log.Infow("task planner started", "address", a.cfg.Server.Addr(), "workers", workers, "bot", a.telegram != nil)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warnw("http shutdown", "error", err)
	}

	wg.Wait()
	a.log.Info("shutdown complete")
	return runErr
}
