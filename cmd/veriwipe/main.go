package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"veriwipe/internal/auditlog"
	"veriwipe/internal/certificate"
	"veriwipe/internal/config"
	"veriwipe/internal/device"
	"veriwipe/internal/executor"
	"veriwipe/internal/job"
	"veriwipe/internal/logging"
	"veriwipe/internal/policy"
	"veriwipe/internal/sampler"
	"veriwipe/internal/security"
	"veriwipe/internal/system"
)

const (
	Version = "1.0.0"

	ExitSuccess    = 0
	ExitError      = 1
	ExitUnverified = 2
)

var (
	verbose    bool
	configPath string
	profile    string
)

var rootCmd = &cobra.Command{
	Use:     "veriwipe",
	Short:   "veriwipe - verifiable disk sanitization",
	Long:    "Device-adaptive disk sanitization with a tamper-evident audit trail and signed certificates of destruction.",
	Version: Version,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <device>",
	Short: "Inspect a device and show the sanitization plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe <device>",
	Short: "Sanitize a device and issue a signed certificate",
	Args:  cobra.ExactArgs(1),
	RunE:  runWipe,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <certificate.json>",
	Short: "Verify a certificate offline against a public key",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show or initialize the signing key pair",
	RunE:  runKeys,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "performance profile (safe/balanced/aggressive)")

	wipeCmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")

	verifyCmd.Flags().String("key", "", "public key path (defaults to configured key)")

	rootCmd.AddCommand(inspectCmd, wipeCmd, verifyCmd, keysCmd)
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load configuration")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, errors.Wrap(err, "invalid configuration")
	}
	if profile != "" {
		if err := config.ApplyProfile(cfg, profile); err != nil {
			return nil, nil, errors.Wrapf(err, "apply profile %s", profile)
		}
	}
	logger, err := logging.New(cfg, verbose)
	if err != nil {
		return nil, nil, errors.Wrap(err, "initialize logger")
	}
	return cfg, logger, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	inspector := device.NewInspector(system.ExecRunner{}, logger)
	p, err := inspector.Inspect(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Device:      %s\n", p.Path)
	fmt.Printf("Model:       %s\n", p.Model)
	fmt.Printf("Bus:         %s\n", p.Bus)
	fmt.Printf("Size:        %d GB\n", p.SizeGB())
	fmt.Printf("Rotational:  %t\n", p.Rotational)
	fmt.Printf("SecureErase: %s\n", p.SecureErase)
	fmt.Printf("Encryption:  %s\n", p.Encryption)
	if p.HiddenAreaExtent > 0 {
		fmt.Printf("Hidden area: %d sectors\n", p.HiddenAreaExtent)
	}
	fmt.Printf("Fingerprint: %s\n", p.Fingerprint)

	selector := policy.NewSelector(cfg, nil, logger)
	fmt.Println("\nPlanned methods, in order:")
	for i, m := range selector.Select(p) {
		fmt.Printf("  %d. %s [%s]\n", i+1, m, m.Class)
		if m.Warning != "" {
			fmt.Printf("     warning: %s\n", m.Warning)
		}
	}

	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	devicePath := args[0]

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := security.Checks(cfg, devicePath); err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force && cfg.Security.RequireConfirmation {
		fmt.Printf("WARNING: all data on %s will be permanently destroyed.\n", devicePath)
		fmt.Print("Type the device path to continue: ")
		var response string
		fmt.Scanln(&response)
		if strings.TrimSpace(response) != devicePath {
			logger.Info("wipe declined by operator", zap.String("device", devicePath))
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warn("signal received, cancelling if still safe", zap.String("signal", sig.String()))
		fmt.Printf("\nReceived %s; cancelling unless destruction already started.\n", sig.String())
		cancel()
	}()

	keys, err := certificate.LoadOrGenerate(cfg.Keys.PrivateKeyPath, cfg.Keys.PublicKeyPath)
	if err != nil {
		logger.Warn("signing keys unavailable, job will run without a certificate", zap.Error(err))
	}

	runner := system.ExecRunner{}
	pipeline := job.NewPipeline(
		cfg,
		device.NewInspector(runner, logger),
		policy.NewSelector(cfg, nil, logger),
		executor.New(cfg, runner, logger),
		sampler.New(cfg, logger),
		auditlog.NewStore(cfg.Audit.LogDir),
		certificate.NewSigner(keys, cfg.Audit.CertificateDir, logger),
		job.NewRegistry(),
		logger,
	)

	progress := make(chan executor.Progress, 64)
	go func() {
		for p := range progress {
			fmt.Printf("\r[%5.1f%%] %s", p.Percent, p.Message)
		}
	}()

	j, runErr := pipeline.Run(ctx, devicePath, progress)
	close(progress)
	fmt.Println()

	fmt.Println("\nResult:")
	fmt.Println("=======")
	fmt.Printf("Job:         %s\n", j.ID)
	fmt.Printf("Outcome:     %s\n", j.Outcome)
	if j.Succeeded != nil {
		fmt.Printf("Method:      %s [%s]\n", j.Succeeded, j.NISTClass())
	}
	if j.Report != nil {
		fmt.Printf("Sampling:    %d regions, %d suspect\n", j.Report.Regions, j.Report.Failed)
	}
	if j.AuditLogPath != "" {
		fmt.Printf("Audit log:   %s\n", j.AuditLogPath)
	}
	if j.CertificatePath != "" {
		fmt.Printf("Certificate: %s\n", j.CertificatePath)
	}
	if j.CertificateErr != "" {
		fmt.Printf("Certificate: not issued (%s)\n", j.CertificateErr)
	}
	if j.Error != "" {
		fmt.Printf("Error:       %s\n", j.Error)
	}

	if runErr != nil {
		return runErr
	}
	if j.Outcome == job.OutcomeCompletedUnverified {
		os.Exit(ExitUnverified)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	keyPath, _ := cmd.Flags().GetString("key")
	if keyPath == "" {
		keyPath = cfg.Keys.PublicKeyPath
	}

	result, err := certificate.VerifyFile(args[0], keyPath)
	fmt.Printf("Certificate: %s\n", args[0])
	fmt.Printf("Result:      %s\n", result)
	if err != nil {
		fmt.Printf("Detail:      %s\n", err.Error())
	}

	if result != certificate.ResultValid {
		return errors.Newf("certificate is %s", result)
	}
	return nil
}

func runKeys(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	keys, err := certificate.LoadOrGenerate(cfg.Keys.PrivateKeyPath, cfg.Keys.PublicKeyPath)
	if err != nil {
		return err
	}
	fp, err := keys.Fingerprint()
	if err != nil {
		return err
	}

	fmt.Printf("Private key: %s\n", cfg.Keys.PrivateKeyPath)
	fmt.Printf("Public key:  %s\n", cfg.Keys.PublicKeyPath)
	fmt.Printf("Fingerprint: %s\n", fp)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(ExitError)
	}
	os.Exit(ExitSuccess)
}
