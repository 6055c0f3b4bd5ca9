package api

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Open-WP-Club/plugin-hub/internal/hub"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var (
	slugPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	versionPattern = regexp.MustCompile(`^[vV]?[0-9A-Za-z][0-9A-Za-z.+-]*$`)
)

// ParamsValidator checks request fields before they reach the executor.
// Missing fields are left to the executor, which reports them in its own
// terms; only malformed values are rejected here.
type ParamsValidator struct {
	errors ValidationErrors
}

// NewParamsValidator creates a new validator
func NewParamsValidator() *ParamsValidator {
	return &ParamsValidator{errors: make(ValidationErrors, 0)}
}

// Validate validates action parameters
func (v *ParamsValidator) Validate(in hub.Params) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if in.Repo != "" {
		if err := ValidatePluginSlug(in.Repo); err != nil {
			v.errors = append(v.errors, ValidationError{Field: "repo", Message: err.Error()})
		}
	}
	v.validateVersion("version", in.Version)
	v.validateVersion("current_version", in.CurrentVersion)
	v.validateVersion("new_version", in.NewVersion)
	v.validatePackageURL(in.URL)

	return v.errors
}

func (v *ParamsValidator) validateVersion(field, value string) {
	if value == "" {
		return
	}
	if len(value) > 64 || !versionPattern.MatchString(value) {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: "invalid version format",
		})
	}
}

func (v *ParamsValidator) validatePackageURL(raw string) {
	if raw == "" {
		return
	}

	u, err := url.Parse(raw)
	if err != nil {
		v.errors = append(v.errors, ValidationError{
			Field:   "url",
			Message: "invalid URL format",
		})
		return
	}
	if !strings.EqualFold(u.Scheme, "https") {
		v.errors = append(v.errors, ValidationError{
			Field:   "url",
			Message: fmt.Sprintf("unsupported package protocol '%s'. Supported: https", u.Scheme),
		})
	}
	if u.Host == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   "url",
			Message: "package URL must include a host",
		})
	}
}

// ValidateBulkItem validates one bulk item. An empty repo is an error here
// since every bulk item names a plugin.
func ValidateBulkItem(item hub.BulkItem) error {
	if item.Repo == "" {
		return ValidationErrors{{Field: "repo", Message: "plugin identifier is required"}}
	}
	if errs := NewParamsValidator().Validate(hub.Params{Repo: item.Repo, Version: item.Version, URL: item.URL}); errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidatePluginSlug validates a plugin identifier, which doubles as its
// directory name on the host.
func ValidatePluginSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("plugin identifier is required")
	}
	if len(slug) > 100 {
		return fmt.Errorf("plugin identifier must be less than 100 characters")
	}
	if !slugPattern.MatchString(slug) || strings.Contains(slug, "..") {
		return fmt.Errorf("plugin identifier must contain only letters, numbers, dots, underscores, and hyphens")
	}
	return nil
}
