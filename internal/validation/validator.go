package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const maxTaskNameLength = 255

var validate = New()

// New returns a validator with the project's custom rules registered:
// safe_url for outbound transfer targets and task_name for registry keys.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("safe_url", validateSafeURL)
	_ = v.RegisterValidation("task_name", validateTaskName)
	return v
}

func ValidateTaskName(name string) error {
	if err := validate.Var(name, "required,task_name"); err != nil {
		return fmt.Errorf("invalid task name %q: %w", name, err)
	}
	return nil
}

func validateSafeURL(fl validator.FieldLevel) bool {
	urlStr := fl.Field().String()

	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if u.Host == "" {
		return false
	}

	host := u.Hostname()

	forbiddenHosts := []string{
		"localhost",
		"127.0.0.1",
		"::1",
		"0.0.0.0",
		"169.254.169.254",
	}

	for _, forbidden := range forbiddenHosts {
		if strings.EqualFold(host, forbidden) {
			return false
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			return false
		}
	}

	return true
}

// validateTaskName accepts names usable both as a URL path segment and as a
// file name in the storage directory.
func validateTaskName(fl validator.FieldLevel) bool {
	name := fl.Field().String()

	if name == "" || len(name) > maxTaskNameLength {
		return false
	}
	if name == "." || name == ".." {
		return false
	}

	for _, r := range name {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}

	return true
}
