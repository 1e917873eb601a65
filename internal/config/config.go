package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

const appName = "shiftsync"

// Calendar backend types.
const (
	CalendarTypeGoogle = "google"
	CalendarTypeCalDAV = "caldav"
)

// Browser driver names.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// "installed" is the desktop app flavour; "web" works the same for the loopback flow
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// EventTemplate holds the fixed parts of every inserted shift event.
type EventTemplate struct {
	Summary         string  `json:"summary,omitempty"`
	Description     string  `json:"description,omitempty"`
	Location        string  `json:"location,omitempty"`         // Used when the shift carries no store information
	ReminderMinutes []int64 `json:"reminder_minutes,omitempty"` // Popup reminders, minutes before start
}

// Browser configures the headless browser used to scrape the schedule.
type Browser struct {
	Driver                string `json:"driver,omitempty"` // "chromedp" or "rod"
	Headless              *bool  `json:"headless,omitempty"`
	ExecPath              string `json:"exec_path,omitempty"` // Optional Chrome/Chromium binary
	NavigationTimeoutMs   int    `json:"navigation_timeout_ms,omitempty"`
	SelectorTimeoutMs     int    `json:"selector_timeout_ms,omitempty"`
	PollIntervalMs        int    `json:"poll_interval_ms,omitempty"`
	MaxIndeterminatePolls int    `json:"max_indeterminate_polls,omitempty"`
	MaxTransitions        int    `json:"max_transitions,omitempty"`
}

// IsHeadless reports whether the browser runs without a window. Defaults to true.
func (b Browser) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// NavigationTimeout bounds a single wait for navigation to settle.
func (b Browser) NavigationTimeout() time.Duration {
	return time.Duration(b.NavigationTimeoutMs) * time.Millisecond
}

// SelectorTimeout bounds a single wait for a DOM marker.
func (b Browser) SelectorTimeout() time.Duration {
	return time.Duration(b.SelectorTimeoutMs) * time.Millisecond
}

// PollInterval is the pause between indeterminate polls.
func (b Browser) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

// Selectors overrides the CSS selectors used against the schedule site.
// Empty fields keep the built-in defaults.
type Selectors struct {
	CredentialInput string `json:"credential_input,omitempty"`
	PasswordInput   string `json:"password_input,omitempty"`
	SecurityInput   string `json:"security_input,omitempty"`
	SecurityLabel   string `json:"security_label,omitempty"`
	Submit          string `json:"submit,omitempty"`
	Shift           string `json:"shift,omitempty"`
	ShiftTime       string `json:"shift_time,omitempty"`
	ShiftStore      string `json:"shift_store,omitempty"`
	Day             string `json:"day,omitempty"`
	DayTitle        string `json:"day_title,omitempty"`
	TimeSeparator   string `json:"time_separator,omitempty"`
}

// Config holds the configuration for the shift sync tool.
type Config struct {
	SiteURL               string        `json:"site_url,omitempty"`
	CalendarType          string        `json:"calendar_type,omitempty"` // "google" or "caldav"
	CalendarID            string        `json:"calendar_id,omitempty"`
	CalendarName          string        `json:"calendar_name,omitempty"`
	GoogleCredentialsPath string        `json:"google_credentials_path,omitempty"`
	TokenPath             string        `json:"token_path,omitempty"`
	SecretsPath           string        `json:"secrets_path,omitempty"`
	Timezone              string        `json:"timezone,omitempty"`
	Schedule              string        `json:"schedule,omitempty"` // Optional cron expression; empty means a single pass
	Event                 EventTemplate `json:"event"`
	Browser               Browser       `json:"browser"`
	Selectors             Selectors     `json:"selectors"`

	// CalDAV specific fields
	CalDAVServerURL string `json:"caldav_server_url,omitempty"`
	CalDAVUsername  string `json:"caldav_username,omitempty"`
}

// Location returns the time zone shifts are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Overrides carries command-line flag values. Empty fields do not override.
type Overrides struct {
	SecretsPath           string
	TokenPath             string
	GoogleCredentialsPath string
	CalendarName          string
	Schedule              string
}

// DefaultConfigPath returns the XDG location of the config file.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.json")
}

// DefaultSecretsPath returns the XDG location of the secrets file.
func DefaultSecretsPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "secrets.yaml")
}

// DefaultTokenPath returns the XDG location of the OAuth token.
func DefaultTokenPath() string {
	return filepath.Join(xdg.DataHome, appName, "token.json")
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Variables already present in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// A missing config file is only an error when the path was given explicitly.
func LoadConfig(configFile string, explicit bool, flags Overrides) (*Config, error) {
	var config Config

	// Step 1: Load from config file
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		switch {
		case err == nil:
			config = *fileConfig
		case !explicit && errors.Is(err, os.ErrNotExist):
			// fall through to env and defaults
		default:
			return nil, err
		}
	}

	// Step 2: Override with environment variables
	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	// Step 3: Override with command-line flags (highest priority)
	if flags.SecretsPath != "" {
		config.SecretsPath = flags.SecretsPath
	}
	if flags.TokenPath != "" {
		config.TokenPath = flags.TokenPath
	}
	if flags.GoogleCredentialsPath != "" {
		config.GoogleCredentialsPath = flags.GoogleCredentialsPath
	}
	if flags.CalendarName != "" {
		config.CalendarName = flags.CalendarName
	}
	if flags.Schedule != "" {
		config.Schedule = flags.Schedule
	}

	// Step 4: Apply defaults and validate required fields
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyEnv(config *Config) error {
	// Ordered: the SHIFTSYNC_ prefixed credentials path wins over the generic one
	stringVars := []struct {
		key string
		dst *string
	}{
		{"SHIFTSYNC_SITE_URL", &config.SiteURL},
		{"SHIFTSYNC_CALENDAR_TYPE", &config.CalendarType},
		{"SHIFTSYNC_CALENDAR_ID", &config.CalendarID},
		{"SHIFTSYNC_CALENDAR_NAME", &config.CalendarName},
		{"SHIFTSYNC_SECRETS_PATH", &config.SecretsPath},
		{"SHIFTSYNC_TOKEN_PATH", &config.TokenPath},
		{"SHIFTSYNC_TIMEZONE", &config.Timezone},
		{"SHIFTSYNC_SCHEDULE", &config.Schedule},
		{"SHIFTSYNC_BROWSER_DRIVER", &config.Browser.Driver},
		{"SHIFTSYNC_CALDAV_SERVER_URL", &config.CalDAVServerURL},
		{"SHIFTSYNC_CALDAV_USERNAME", &config.CalDAVUsername},
		{"GOOGLE_CREDENTIALS_PATH", &config.GoogleCredentialsPath},
		{"SHIFTSYNC_GOOGLE_CREDENTIALS_PATH", &config.GoogleCredentialsPath},
	}
	for _, v := range stringVars {
		if value := os.Getenv(v.key); value != "" {
			*v.dst = value
		}
	}

	if headless := os.Getenv("SHIFTSYNC_HEADLESS"); headless != "" {
		b, err := strconv.ParseBool(headless)
		if err != nil {
			return fmt.Errorf("invalid SHIFTSYNC_HEADLESS value: %w", err)
		}
		config.Browser.Headless = &b
	}
	if polls := os.Getenv("SHIFTSYNC_MAX_INDETERMINATE_POLLS"); polls != "" {
		n, err := strconv.Atoi(polls)
		if err != nil {
			return fmt.Errorf("invalid SHIFTSYNC_MAX_INDETERMINATE_POLLS value: %w", err)
		}
		config.Browser.MaxIndeterminatePolls = n
	}
	return nil
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	if c.SiteURL == "" {
		c.SiteURL = "https://mysite.starbucks.com/MySchedule/Schedule.aspx"
	}
	if c.CalendarType == "" {
		c.CalendarType = CalendarTypeGoogle
	}
	if c.CalendarID == "" && c.CalendarName == "" {
		c.CalendarName = "Starbucks"
	}
	if c.SecretsPath == "" {
		c.SecretsPath = DefaultSecretsPath()
	}
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath()
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}

	if c.Event.Summary == "" {
		c.Event.Summary = "Starbucks"
	}
	if c.Event.Description == "" {
		c.Event.Description = "Automatically added from " + c.SiteURL + "."
	}
	if c.Event.ReminderMinutes == nil {
		c.Event.ReminderMinutes = []int64{4 * 60, 60, 15}
	}

	if c.Browser.Driver == "" {
		c.Browser.Driver = DriverChromedp
	}
	if c.Browser.NavigationTimeoutMs <= 0 {
		c.Browser.NavigationTimeoutMs = 30000
	}
	if c.Browser.SelectorTimeoutMs <= 0 {
		c.Browser.SelectorTimeoutMs = 15000
	}
	if c.Browser.PollIntervalMs <= 0 {
		c.Browser.PollIntervalMs = 1000
	}
	if c.Browser.MaxIndeterminatePolls <= 0 {
		c.Browser.MaxIndeterminatePolls = 5
	}
	if c.Browser.MaxTransitions <= 0 {
		c.Browser.MaxTransitions = 12
	}
}

// Validate checks required fields. Normalize should run first.
func (c *Config) Validate() error {
	if c.CalendarType != CalendarTypeGoogle && c.CalendarType != CalendarTypeCalDAV {
		return fmt.Errorf("calendar_type must be 'google' or 'caldav', got '%s'", c.CalendarType)
	}

	// Every unmatched upcoming event gets deleted, so the target must be a calendar of its own
	if strings.EqualFold(c.CalendarID, "primary") {
		return fmt.Errorf("calendar_id must name a dedicated calendar, not the primary calendar")
	}

	switch c.CalendarType {
	case CalendarTypeGoogle:
		if c.GoogleCredentialsPath == "" {
			return fmt.Errorf("google_credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
		}
	case CalendarTypeCalDAV:
		if c.CalDAVServerURL == "" {
			return fmt.Errorf("caldav_server_url must be provided via SHIFTSYNC_CALDAV_SERVER_URL environment variable or config file")
		}
		if c.CalDAVUsername == "" {
			return fmt.Errorf("caldav_username must be provided via SHIFTSYNC_CALDAV_USERNAME environment variable or config file")
		}
	}

	if c.Browser.Driver != DriverChromedp && c.Browser.Driver != DriverRod {
		return fmt.Errorf("browser.driver must be 'chromedp' or 'rod', got '%s'", c.Browser.Driver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
