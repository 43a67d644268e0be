package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "journal.max_lines")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}
}

// ValidPlatforms returns the platform tags a config may pin as default.
func ValidPlatforms() []string {
	return []string{"claude", "opencode", "cursor", "iflow", "codex"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePlatform()...)
	errors = append(errors, c.validateJournal()...)
	errors = append(errors, c.validateAgent()...)

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	level := strings.ToUpper(c.Logging.Level)
	if level != "" && !slices.Contains(ValidLogLevels(), level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

func (c *Config) validatePlatform() []ValidationError {
	var errors []ValidationError

	if c.Platform.Default != "" && !slices.Contains(ValidPlatforms(), c.Platform.Default) {
		errors = append(errors, ValidationError{
			Field:   "platform.default",
			Value:   c.Platform.Default,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPlatforms(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateJournal() []ValidationError {
	var errors []ValidationError

	if c.Journal.MaxLines <= 0 {
		errors = append(errors, ValidationError{
			Field:   "journal.max_lines",
			Value:   c.Journal.MaxLines,
			Message: "must be positive",
		})
	}
	if c.Journal.WarnLines < 0 {
		errors = append(errors, ValidationError{
			Field:   "journal.warn_lines",
			Value:   c.Journal.WarnLines,
			Message: "must be non-negative",
		})
	}
	if c.Journal.MaxLines > 0 && c.Journal.WarnLines > c.Journal.MaxLines {
		errors = append(errors, ValidationError{
			Field:   "journal.warn_lines",
			Value:   c.Journal.WarnLines,
			Message: "must not exceed journal.max_lines",
		})
	}

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if c.Agent.LogTailLines <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.log_tail_lines",
			Value:   c.Agent.LogTailLines,
			Message: "must be positive",
		})
	}
	if c.Agent.SessionPollAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.session_poll_attempts",
			Value:   c.Agent.SessionPollAttempts,
			Message: "must be non-negative",
		})
	}
	if c.Agent.SessionPollIntervalMS < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.session_poll_interval_ms",
			Value:   c.Agent.SessionPollIntervalMS,
			Message: "must be non-negative",
		})
	}

	return errors
}
