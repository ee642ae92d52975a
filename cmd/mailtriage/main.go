package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/app"
	"github.com/nhle/mail-triage/internal/credential"
	"github.com/nhle/mail-triage/internal/digest"
	"github.com/nhle/mail-triage/internal/model"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "mailtriage",
		Short: "Classify, file, and digest incoming mail",
		Long: "mailtriage watches an IMAP mailbox, classifies new mail, files it\n" +
			"into classification folders, learns from corrections, and rolls\n" +
			"low-priority mail into periodic digests with one-click cleanup.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		runCmd(),
		triageCmd(),
		sweepCmd(),
		digestCmd(),
		cleanupCmd(),
		initCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildLogger creates the process logger.
func buildLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

// buildServices loads config and constructs the full service graph.
func buildServices(ctx context.Context) (*app.Services, *zap.Logger, error) {
	logger, err := buildLogger()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	services, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return services, logger, nil
}

// runCmd starts the daemon: triage and digest loops plus the HTTP
// listener, until interrupted.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the triage daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			services, logger, err := buildServices(ctx)
			if err != nil {
				return err
			}
			defer services.Close()
			defer logger.Sync()

			services.RegisterJobs()
			services.Runner.Start()

			httpErr := make(chan error, 1)
			go func() {
				httpErr <- services.HTTP.Start()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case sig := <-stop:
				logger.Info("shutting down", zap.String("signal", sig.String()))
			case err := <-httpErr:
				if err != nil {
					logger.Error("http listener", zap.Error(err))
				}
			}

			services.Runner.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return services.HTTP.Shutdown(shutdownCtx)
		},
	}
}

// triageCmd runs one triage cycle and exits.
func triageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triage",
		Short: "Run one triage cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, logger, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()
			defer logger.Sync()

			return services.Engine.RunCycle(cmd.Context())
		},
	}
}

// sweepCmd runs one correction sweep and exits.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Sweep the correction folders once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, logger, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()
			defer logger.Sync()

			return services.Sweeper.Run(cmd.Context())
		},
	}
}

// digestCmd generates the pending digest, optionally without sending.
func digestCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Generate and send the pending digest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, logger, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()
			defer logger.Sync()

			var rendered *digest.Rendered
			if dryRun {
				rendered, err = services.Digest.Generate(cmd.Context())
			} else {
				rendered, err = services.Digest.GenerateAndSend(cmd.Context())
			}
			if errors.Is(err, digest.ErrNothingToSend) {
				fmt.Println("Nothing to send: no low-priority mail accumulated.")
				return nil
			}
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Println(rendered.TextBody)
			} else {
				fmt.Printf("Digest sent: %s\n", rendered.Summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the digest instead of sending it")
	return cmd
}

// cleanupCmd replays a cleanup token from the command line.
func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <token>",
		Short: "Run cleanup for a digest token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, logger, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()
			defer logger.Sync()

			result := services.Cleanup.Cleanup(cmd.Context(), args[0])
			if !result.Success {
				return errors.New(result.Error)
			}
			if result.AlreadyCleaned {
				fmt.Println("Already cleaned.")
				return nil
			}
			fmt.Printf("Archived %d, kept %d, deleted %d.\n",
				result.Archived, result.Kept, result.Deleted)
			return nil
		},
	}
}

// initCmd writes a starter config file and stores credentials in the
// OS keyring.
func initCmd() *cobra.Command {
	var (
		imapHost     string
		imapUser     string
		imapPassword string
		smtpHost     string
		smtpPassword string
		apiKey       string
		selfAddress  string
		recipient    string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config and store credentials",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := model.LoadConfig(configPath)
			if err != nil {
				return err
			}

			if imapHost != "" {
				cfg.IMAP.Host = imapHost
			}
			if imapUser != "" {
				cfg.IMAP.Username = imapUser
			}
			if smtpHost != "" {
				cfg.SMTP.Host = smtpHost
			}
			if selfAddress != "" {
				cfg.Triage.SelfAddress = selfAddress
			}
			if recipient != "" {
				cfg.Digest.Recipient = recipient
			}

			if err := model.SaveConfig(configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", configPath)

			store := func(key, value, label string) error {
				if value == "" {
					return nil
				}
				if err := credential.Set(key, value); err != nil {
					return fmt.Errorf("storing %s: %w", label, err)
				}
				fmt.Printf("Stored %s in the system keyring.\n", label)
				return nil
			}

			if err := store(credential.KeyIMAPPassword, imapPassword, "IMAP password"); err != nil {
				return err
			}
			if err := store(credential.KeySMTPPassword, smtpPassword, "SMTP password"); err != nil {
				return err
			}
			return store(credential.KeyAnthropicAPI, apiKey, "Anthropic API key")
		},
	}

	cmd.Flags().StringVar(&imapHost, "imap-host", "", "IMAP server host")
	cmd.Flags().StringVar(&imapUser, "imap-user", "", "IMAP username")
	cmd.Flags().StringVar(&imapPassword, "imap-password", "", "IMAP password (stored in keyring)")
	cmd.Flags().StringVar(&smtpHost, "smtp-host", "", "SMTP server host")
	cmd.Flags().StringVar(&smtpPassword, "smtp-password", "", "SMTP password (stored in keyring)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Anthropic API key (stored in keyring)")
	cmd.Flags().StringVar(&selfAddress, "self-address", "", "the mailbox's own address")
	cmd.Flags().StringVar(&recipient, "digest-recipient", "", "digest delivery address")

	return cmd
}
