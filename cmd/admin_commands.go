package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/model"
	"tariff-auth/internal/service"
	"time"

	"github.com/spf13/cobra"
)

const cliActor = "cli"

// withApplication : собирает зависимости для одной CLI команды и закрывает их после
func withApplication(load configLoader, run func(app *application) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	if cfg.Store.Driver == "memory" {
		return errors.New("store.driver=memory: состояние живет в памяти сервера, CLI его не видит")
	}

	app, err := newApplication(cfg, metrics.Noop())
	if err != nil {
		return err
	}
	defer app.Close()

	return run(app)
}

func newMigrateCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			// миграциям нужна только БД
			db, err := newDatabase(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := db.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "миграции применены")
			return nil
		},
	}
}

func newUnlockCommand(load configLoader) *cobra.Command {
	var userID, adminID, reason string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Снять блокировку учетной записи",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(load, func(app *application) error {
				if err := app.lockout.Unlock(commandContext(cmd), userID, adminID, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "учетная запись %s разблокирована\n", userID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "UUID пользователя")
	cmd.Flags().StringVar(&adminID, "admin", cliActor, "Кто выполняет действие (попадает в аудит)")
	cmd.Flags().StringVar(&reason, "reason", "", "Причина")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRevokeUserCommand(load configLoader) *cobra.Command {
	var userID, actorID, reason string

	cmd := &cobra.Command{
		Use:   "revoke-user",
		Short: "Отозвать все выпущенные токены пользователя",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(load, func(app *application) error {
				if err := app.auth.RevokeAllForUser(commandContext(cmd), userID, actorID, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "токены пользователя %s отозваны\n", userID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "UUID пользователя")
	cmd.Flags().StringVar(&actorID, "admin", cliActor, "Кто выполняет действие (попадает в аудит)")
	cmd.Flags().StringVar(&reason, "reason", service.ReasonAdmin, "Причина")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPurposeTokenCommand(load configLoader) *cobra.Command {
	var userID, purpose string
	var lifetime time.Duration

	cmd := &cobra.Command{
		Use:   "purpose-token",
		Short: "Выпустить одноразовый токен с назначением (например, password_reset)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lifetime <= 0 {
				return errors.New("--ttl должен быть больше нуля")
			}

			return withApplication(load, func(app *application) error {
				issued, err := app.auth.IssuePurposeToken(commandContext(cmd), userID, purpose, lifetime)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), issued.Token)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "UUID пользователя")
	cmd.Flags().StringVar(&purpose, "purpose", "", "Назначение токена")
	cmd.Flags().DurationVar(&lifetime, "ttl", 30*time.Minute, "Время жизни токена")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("purpose")
	return cmd
}

func newRateLimitCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Просмотр и сброс счетчиков лимитов",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRateLimitStatusCommand(load))
	cmd.AddCommand(newRateLimitResetCommand(load))
	return cmd
}

func newRateLimitStatusCommand(load configLoader) *cobra.Command {
	var ip string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Состояние всех IP-лимитов для адреса",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(load, func(app *application) error {
				ctx := commandContext(cmd)
				status := app.limiter.StatusForIP(ctx, ip)

				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(struct {
					Status     model.IPRateLimitStatus `json:"status"`
					Suspicious bool                    `json:"suspicious"`
				}{status, app.limiter.IsSuspicious(ctx, ip)})
			})
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "IP адрес клиента")
	_ = cmd.MarkFlagRequired("ip")
	return cmd
}

func newRateLimitResetCommand(load configLoader) *cobra.Command {
	var ip, key string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Сбросить счетчики IP адреса или один ключ",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (ip == "") == (key == "") {
				return errors.New("нужно указать ровно один из флагов --ip или --key")
			}

			return withApplication(load, func(app *application) error {
				ctx := commandContext(cmd)
				if key != "" {
					if err := app.limiter.Reset(ctx, key); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "счетчик %s сброшен\n", key)
					return nil
				}

				if err := app.limiter.ClearIP(ctx, ip); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "лимиты для %s сброшены\n", ip)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "IP адрес клиента")
	cmd.Flags().StringVar(&key, "key", "", "Полный ключ счетчика, например rate_limit:login:203.0.113.7")
	return cmd
}
