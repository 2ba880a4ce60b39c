package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"medledger/internal/config"
	"medledger/internal/infra/auth/jwtauth"
	httpinfra "medledger/internal/infra/http"
)

// errChainInvalid makes the process exit non-zero after the report has
// already been printed.
var errChainInvalid = errors.New("ledger failed validation")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errChainInvalid) {
			pterm.Error.Println(err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medledger",
		Short:         "Tamper-evident provenance ledger for medical records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(infoCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(compactCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, config.FromEnv())
			if err != nil {
				return err
			}
			defer a.close()

			srv := httpinfra.NewServer(a.cfg, httpinfra.ServerDeps{
				Provenance: a.service,
				Logger:     a.log.With().Str("component", "http").Logger(),
			})
			return srv.Run(ctx)
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Walk the whole chain and report the first invalid block",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.FromEnv())
			if err != nil {
				return err
			}
			defer a.close()

			status := a.service.ValidateChain(cmd.Context())
			renderChainStatus(cmd.OutOrStdout(), status)
			if !status.Valid {
				return errChainInvalid
			}
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show chain length, tip and difficulty",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.FromEnv())
			if err != nil {
				return err
			}
			defer a.close()

			return renderInfo(cmd.OutOrStdout(), a.cfg.LedgerBackend, a.service.Info(cmd.Context()))
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <record-id>",
		Short: "List the blocks and audit transactions of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.FromEnv())
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.service.GetHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), history)
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Reclaim space in the ledger store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.FromEnv())
			if err != nil {
				return err
			}
			defer a.close()

			spinner, _ := pterm.DefaultSpinner.Start("Compacting " + a.cfg.LedgerBackend + " store...")
			supported, err := a.ledger.Compact(cmd.Context())
			switch {
			case err != nil:
				spinner.Fail(err.Error())
				return err
			case !supported:
				spinner.Warning("the " + a.cfg.LedgerBackend + " backend has nothing to compact")
			default:
				spinner.Success("store compacted")
			}
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an HS256 bearer token for AUTH_MODE=jwt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			authenticator, err := jwtauth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTClockSkew())
			if err != nil {
				return err
			}
			token, err := authenticator.Sign(args[0], roles, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable (doctor, hospital, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
