package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/oauth2"

	"github.com/beekhof/shift-sync/internal/auth"
	"github.com/beekhof/shift-sync/internal/browser"
	"github.com/beekhof/shift-sync/internal/calendar"
	"github.com/beekhof/shift-sync/internal/config"
	"github.com/beekhof/shift-sync/internal/sync"
)

var (
	logger *zap.Logger

	verbose   bool
	overrides config.Overrides
	configArg string
)

// errRunFailed marks a run that completed but could not apply every change.
var errRunFailed = errors.New("some calendar changes failed")

var rootCmd = &cobra.Command{
	Use:   "shiftsync",
	Short: "Copy your MySchedule shifts into a dedicated calendar",
	Long: `shiftsync logs into the MySchedule site with a headless browser, reads the
upcoming shifts and makes a dedicated calendar match them: missing shifts are
added and upcoming events that are no longer scheduled are removed.

With --schedule (or "schedule" in the config file) it keeps running and syncs
on that cron schedule instead of exiting after one pass.

Configuration precedence: flags > environment > config file > defaults.`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), true)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a sync would change without touching the calendar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), false)
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize access to Google Calendar and store the token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.CalendarType != config.CalendarTypeGoogle {
			return fmt.Errorf("auth is only needed for calendar_type google (configured: %s)", cfg.CalendarType)
		}
		oauthConfig, err := googleOAuthConfig(cfg)
		if err != nil {
			return err
		}
		store := auth.NewFileTokenStore(cfg.TokenPath)
		if _, err := auth.Authorize(cmd.Context(), oauthConfig, store, os.Stdout, logger); err != nil {
			return err
		}
		fmt.Printf("Token saved to %s\n", cfg.TokenPath)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configArg, "config", "", "Path to config file (default "+config.DefaultConfigPath()+")")
	flags.StringVar(&overrides.SecretsPath, "secrets", "", "Path to the YAML secrets file")
	flags.StringVar(&overrides.TokenPath, "token-path", "", "Path to the stored OAuth token")
	flags.StringVar(&overrides.GoogleCredentialsPath, "google-credentials-path", "", "Path to Google OAuth client credentials JSON")
	flags.StringVar(&overrides.CalendarName, "calendar-name", "", "Name of the dedicated shift calendar")
	flags.StringVar(&overrides.Schedule, "schedule", "", "Cron expression; keep running and sync on this schedule")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(planCmd, authCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	path, explicit := configArg, configArg != ""
	if !explicit {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path, explicit, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func googleOAuthConfig(cfg *config.Config) (*oauth2.Config, error) {
	clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.GoogleCredentialsPath)
	if err != nil {
		return nil, err
	}
	return auth.NewOAuthConfig(clientID, clientSecret), nil
}

func newCalendarService(ctx context.Context, cfg *config.Config, secrets *config.Secrets) (calendar.Service, error) {
	switch cfg.CalendarType {
	case config.CalendarTypeCalDAV:
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		if secrets.CalDAVPassword == "" {
			return nil, fmt.Errorf("caldav_password must be set in %s or SHIFTSYNC_CALDAV_PASSWORD", cfg.SecretsPath)
		}
		return calendar.NewCalDAVClient(cfg.CalDAVServerURL, cfg.CalDAVUsername, secrets.CalDAVPassword, loc), nil
	default:
		oauthConfig, err := googleOAuthConfig(cfg)
		if err != nil {
			return nil, err
		}
		store := auth.NewFileTokenStore(cfg.TokenPath)
		httpClient, err := auth.GetAuthenticatedClient(ctx, oauthConfig, store, false, os.Stdout, logger)
		if err != nil {
			return nil, fmt.Errorf("%w (run 'shiftsync auth' first)", err)
		}
		return calendar.NewGoogleClient(ctx, httpClient)
	}
}

func newSyncer(ctx context.Context, cfg *config.Config) (*sync.Syncer, error) {
	secrets, err := config.LoadSecrets(cfg.SecretsPath)
	if err != nil {
		return nil, err
	}
	cal, err := newCalendarService(ctx, cfg, secrets)
	if err != nil {
		return nil, err
	}
	opener := func(ctx context.Context) (browser.Browser, error) {
		return browser.Open(ctx, cfg.Browser.Driver, browser.Options{
			Headless: cfg.Browser.IsHeadless(),
			ExecPath: cfg.Browser.ExecPath,
			Logger:   logger.Named("browser"),
		})
	}
	return sync.NewSyncer(cal, opener, cfg, secrets, logger), nil
}

func runSync(ctx context.Context, apply bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	syncer, err := newSyncer(ctx, cfg)
	if err != nil {
		return err
	}

	pass := func(ctx context.Context) error {
		var (
			summary *sync.Summary
			err     error
		)
		if apply {
			summary, err = syncer.Sync(ctx)
		} else {
			summary, err = syncer.Plan(ctx)
		}
		if summary != nil {
			fmt.Println(summary.String())
		}
		if err != nil {
			return err
		}
		if summary.Failed() {
			return errRunFailed
		}
		return nil
	}

	if cfg.Schedule == "" || !apply {
		return pass(ctx)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	return runScheduled(ctx, cfg.Schedule, loc, logger, pass)
}
