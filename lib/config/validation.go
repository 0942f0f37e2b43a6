package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	t := cfg.TLS
	if t.Required && !t.Enabled {
		return errors.New("tls: required is set but tls is not enabled")
	}
	if t.Enabled && !t.SelfSigned && (t.CertFile == "" || t.KeyFile == "") {
		return errors.New("tls: cert_file and key_file are required unless self_signed is set")
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}

	seen := make(map[string]bool, len(cfg.Credentials.Users))
	for i, u := range cfg.Credentials.Users {
		if seen[u.Login] {
			return fmt.Errorf("credentials.users[%d]: duplicate login %q", i, u.Login)
		}
		seen[u.Login] = true
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
