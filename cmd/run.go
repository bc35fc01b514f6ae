// File: cmd/run.go
// Description: The run command. Wires every component together from the
// loaded configuration and executes a batch of signup attempts.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/egress"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
	"github.com/xkilldash9x/enroll-cli/internal/ledger"
	"github.com/xkilldash9x/enroll-cli/internal/observability"
	"github.com/xkilldash9x/enroll-cli/internal/orchestrator"
	"github.com/xkilldash9x/enroll-cli/internal/provisioner"
	"github.com/xkilldash9x/enroll-cli/internal/recorder"
	"github.com/xkilldash9x/enroll-cli/internal/session"
	"github.com/xkilldash9x/enroll-cli/internal/workflow"
)

var (
	runPlatform string
	runCount    int
	runDelay    time.Duration
	runHeadless bool
	runOTPWait  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a batch of signup attempts against the configured platform.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		logger := observability.GetLogger()

		platform, err := schemas.ParsePlatform(runPlatform)
		if err != nil {
			return err
		}
		cfg.Run.Platform = string(platform)
		cfg.Run.Count = runCount
		if cmd.Flags().Changed("delay") {
			cfg.Workflow.AttemptDelay = runDelay
		}
		if cmd.Flags().Changed("headless") {
			cfg.Browser.Headless = runHeadless
		}
		if cmd.Flags().Changed("otp-wait") {
			cfg.OTP.Timeout = runOTPWait
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// Stop scheduling on the first signal; a second signal kills the
		// process through the default handler.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Ledger backend.
		var store ledger.Store
		switch cfg.Ledger.Backend {
		case "postgres":
			pg, err := ledger.Connect(ctx, cfg.Ledger.PostgresURL, platform)
			if err != nil {
				return err
			}
			store = pg
		default:
			store = ledger.NewFileStore(cfg.Paths.LedgerFile, platform)
		}

		ldg, err := ledger.New(ctx, store, platform, cfg.Paths.PoolFile, cfg.Ledger.StaleReservationAge, logger)
		if err != nil {
			return err
		}
		defer ldg.Close()

		// Session plumbing.
		var prov schemas.Provisioner
		if cfg.Provisioner.Enabled {
			client := provisioner.NewClient(cfg.Provisioner, logger)
			if err := client.Signin(ctx); err != nil {
				return err
			}
			prov = client
		}
		sessions := session.NewManager(cfg, egress.NewSelector(cfg.Proxy), prov, logger)
		defer func() {
			if err := sessions.Shutdown(context.Background()); err != nil {
				logger.Warn("Session shutdown reported errors.", zap.Error(err))
			}
		}()

		// Workflow engine.
		var solver schemas.CaptchaSolver
		if cfg.Captcha.Enabled {
			logger.Warn("Captcha solving is enabled in config but no solver backend is bundled; challenges will fail the attempt.")
		}
		var otpSource schemas.OTPSource
		if cfg.OTP.Mode == "callback" {
			src := workflow.NewChannelOTPSource()
			callback := workflow.NewCallbackServer(cfg.OTP.CallbackAddr, src, logger)
			go func() {
				if err := callback.Start(); err != nil {
					logger.Error("OTP callback server failed.", zap.Error(err))
				}
			}()
			defer func() {
				sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := callback.Shutdown(sdCtx); err != nil {
					logger.Warn("OTP callback shutdown reported errors.", zap.Error(err))
				}
			}()
			otpSource = src
		} else {
			otpSource = workflow.NewPromptOTPSource(os.Stdin, os.Stdout, cfg.OTP.SkipToken, logger)
		}
		engine := workflow.NewEngine(cfg.Workflow, cfg.OTP, otpSource, solver, logger)

		rec := recorder.New(cfg.Paths.AccountsDir, ldg, logger)

		orch, err := orchestrator.New(cfg, ldg, sessions, engine, rec, identity.NewGenerator(0), logger)
		if err != nil {
			return err
		}

		summary, err := orch.RunBatch(ctx, cfg.Run.Count)
		if err != nil {
			return err
		}

		fmt.Printf("\nBatch complete: %d/%d succeeded, %d failed",
			summary.Succeeded, summary.Attempted, summary.Failed)
		if summary.Exhausted {
			fmt.Printf(" (stopped early: phone pool exhausted)")
		}
		fmt.Printf(" in %s\n", summary.Duration.Round(time.Second))

		stats := ldg.Stats()
		fmt.Printf("Pool: %d available, %d consumed of %d total\n",
			stats.Available, stats.Consumed, stats.Total)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPlatform, "platform", "p", "airbnb", "target platform")
	runCmd.Flags().IntVarP(&runCount, "count", "n", 1, "number of accounts to attempt")
	runCmd.Flags().DurationVar(&runDelay, "delay", 5*time.Second, "pause between scheduling attempts")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "run local browsers headless")
	runCmd.Flags().DurationVar(&runOTPWait, "otp-wait", 2*time.Minute, "how long to wait for an SMS code")
	rootCmd.AddCommand(runCmd)
}
