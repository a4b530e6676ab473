package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"filemutex/internal/config"
	"filemutex/internal/driver"
	"filemutex/internal/filesystem"
	"filemutex/internal/service"
)

// options is the state shared by the root command and its subcommands.
type options struct {
	cfg        *config.Config
	configPath string
	logger     *log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: config.Default()}

	cmd := &cobra.Command{
		Use:   "filemutex <name>",
		Short: "Serialize critical sections across processes through a lock file",
		Long: `filemutex runs a pool of callers that take turns in a critical section.
Callers in this process and in any other process pointed at the same lock
file never hold the section at the same time. <name> labels this process
in the output.`,
		Args:              cobra.ExactArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: opts.prepare,
		RunE:              opts.runDriver,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "TOML configuration file")
	pf.StringVar(&opts.cfg.LockFile, config.FlagLockFile, opts.cfg.LockFile, "shared lock file")
	pf.DurationVar(&opts.cfg.PollInterval, config.FlagPollInterval, opts.cfg.PollInterval, "wait between reads of a busy lock")
	pf.DurationVar(&opts.cfg.Timeout, config.FlagTimeout, opts.cfg.Timeout, "give up acquiring after this long (0 waits forever)")
	pf.DurationVar(&opts.cfg.StaleAfter, config.FlagStaleAfter, opts.cfg.StaleAfter, "take over a lock held unchanged for longer than this (0 disables)")
	pf.BoolVar(&opts.cfg.NoColor, config.FlagNoColor, false, "disable colored output")
	pf.BoolVarP(&opts.cfg.Verbose, config.FlagVerbose, "v", false, "log every poll")

	f := cmd.Flags()
	f.IntVarP(&opts.cfg.Workers, config.FlagWorkers, "w", opts.cfg.Workers, "number of concurrent callers")
	f.IntVarP(&opts.cfg.Calls, config.FlagCalls, "n", opts.cfg.Calls, "total number of critical sections to run")
	f.DurationVar(&opts.cfg.HoldDuration, config.FlagHold, opts.cfg.HoldDuration, "time spent inside each critical section")

	cmd.AddCommand(newInitCmd(opts), newStatusCmd(opts), newReleaseCmd(opts))
	return cmd
}

// prepare merges the configuration file under the flags, validates the
// result and sets up logging.
func (o *options) prepare(cmd *cobra.Command, _ []string) error {
	if o.configPath != "" {
		fc, err := config.LoadFile(o.configPath)
		if err != nil {
			return err
		}
		o.cfg.ApplyFile(fc, func(name string) bool {
			fl := cmd.Flag(name)
			return fl != nil && fl.Changed
		})
	}
	if err := o.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	o.logger = initializeLogger(cmd.ErrOrStderr())
	return nil
}

func initializeLogger(w io.Writer) *log.Logger {
	return log.New(w, "", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
}

func (o *options) newService() (*service.DefaultLockService, error) {
	return service.NewDefaultLockService(filesystem.NewDefaultFileSystemAdapter(), o.cfg, o.logger)
}

func (o *options) runDriver(cmd *cobra.Command, args []string) error {
	o.cfg.Label = args[0]
	logEffectiveConfig(o.logger, o.cfg)

	svc, err := o.newService()
	if err != nil {
		return err
	}
	// An unreadable or missing lock is retried by the callers, so only warn here.
	if status, err := svc.Status(); err != nil {
		o.logger.Printf("warning: %v", err)
	} else if !status.Exists {
		o.logger.Printf("%s does not exist yet; callers wait until it is created (see 'filemutex init')", svc.Path())
	}

	sec, err := svc.NewSection(o.cfg.Label)
	if err != nil {
		return err
	}
	d, err := driver.New(o.cfg, sec, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	report, err := d.Run(cmd.Context())
	o.logger.Printf("%s completed %d of %d calls in %v", o.cfg.Label, len(report.Intervals), o.cfg.Calls, report.Elapsed)
	return err
}

func logEffectiveConfig(logger *log.Logger, cfg *config.Config) {
	logger.Println("Effective configuration:")
	logger.Printf("  Label: %s", cfg.Label)
	logger.Printf("  Lock File: %s", cfg.LockFile)
	logger.Printf("  Workers: %d", cfg.Workers)
	logger.Printf("  Calls: %d", cfg.Calls)
	logger.Printf("  Poll Interval: %v", cfg.PollInterval)
	logger.Printf("  Hold: %v", cfg.HoldDuration)
	if cfg.Timeout > 0 {
		logger.Printf("  Timeout: %v", cfg.Timeout)
	}
	if cfg.StaleAfter > 0 {
		logger.Printf("  Stale After: %v", cfg.StaleAfter)
	}
}
