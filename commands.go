package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/membersync/notify"
	"github.com/camden-git/membersync/permissions"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhooks, forms and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = ":" + a.cfg.Port
			}
			server := &http.Server{
				Addr:        addr,
				Handler:     a.router.Handler(),
				ReadTimeout: 10 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				a.log.Info("server listening", "addr", addr, "version", Version)
				errc <- server.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	return cmd
}

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Reconcile the primary flag of every email with inconsistent holders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reconciler.RepairAll(cmd.Context())
			if err != nil {
				return err
			}
			a.alert(cmd.Context(), "repair", notify.Failures("repair", report.Failures), len(report.Failures))
			return printJSON(report)
		},
	}
}

func syncAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Push every primary person to the email platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.email.SyncAll(cmd.Context())
			if err != nil {
				return err
			}
			a.alert(cmd.Context(), "sync-all", notify.Failures("sync-all", report.Failures), len(report.Failures))
			return printJSON(report)
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		Long: `Issue a signed admin API token.

Examples:
  membersync token --subject ops --scope people --scope sync.bulk
  membersync token --subject dashboard --scope events.view --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(scopes) == 0 {
				return errors.New("at least one --scope is required")
			}
			for _, s := range scopes {
				if !permissions.IsValidPermissionKey(s) {
					return fmt.Errorf("unknown scope %q (known: %v)", s, permissions.GetAllPermissionKeys())
				}
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			token, expires, err := a.tokens.IssueAdmin(subject, scopes, ttl)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"token": token, "expires_at": expires})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scope or scope group (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func (a *app) alert(ctx context.Context, kind, msg string, failures int) {
	if failures == 0 || !a.notifier.Enabled() {
		return
	}
	if err := a.notifier.Send(ctx, kind, msg); err != nil {
		a.log.Warning("could not send operator alert", "kind", kind, "error", err)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
