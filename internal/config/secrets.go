package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissingSecret is returned when a required secret is not configured.
var ErrMissingSecret = errors.New("missing secret")

// Secrets holds the credentials for the schedule site and the calendar backend.
// It is kept out of Config so the config file can be shared without leaking them.
type Secrets struct {
	PartnerID       string            `yaml:"partner_id"`
	Password        string            `yaml:"password"`
	SecurityAnswers map[string]string `yaml:"security_answers"` // Displayed question text -> answer
	CalDAVPassword  string            `yaml:"caldav_password,omitempty"`
}

// LoadSecrets reads the YAML secrets file and applies environment overrides.
// A missing file is tolerated as long as the environment supplies the required values.
func LoadSecrets(path string) (*Secrets, error) {
	var secrets Secrets

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &secrets); err != nil {
			return nil, fmt.Errorf("failed to parse secrets file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	if v := os.Getenv("SHIFTSYNC_PARTNER_ID"); v != "" {
		secrets.PartnerID = v
	}
	if v := os.Getenv("SHIFTSYNC_PASSWORD"); v != "" {
		secrets.Password = v
	}
	if v := os.Getenv("SHIFTSYNC_CALDAV_PASSWORD"); v != "" {
		secrets.CalDAVPassword = v
	}
	if secrets.SecurityAnswers == nil {
		secrets.SecurityAnswers = map[string]string{}
	}

	if secrets.PartnerID == "" {
		return nil, fmt.Errorf("%w: partner_id must be provided via SHIFTSYNC_PARTNER_ID environment variable or %s", ErrMissingSecret, path)
	}
	if secrets.Password == "" {
		return nil, fmt.Errorf("%w: password must be provided via SHIFTSYNC_PASSWORD environment variable or %s", ErrMissingSecret, path)
	}

	return &secrets, nil
}

// Answer returns the configured answer for a security question.
// The displayed text is tried verbatim first, then both sides are compared
// after NormalizeQuestion.
func (s *Secrets) Answer(question string) (string, bool) {
	if answer, ok := s.SecurityAnswers[question]; ok {
		return answer, true
	}
	want := NormalizeQuestion(question)
	for q, answer := range s.SecurityAnswers {
		if NormalizeQuestion(q) == want {
			return answer, true
		}
	}
	return "", false
}

// NormalizeQuestion trims, collapses internal whitespace and case-folds.
func NormalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
