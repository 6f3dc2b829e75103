package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers conductor-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("component_kind", validateComponentKind); err != nil {
		return fmt.Errorf("failed to register component_kind validator: %w", err)
	}
	return nil
}

// validateComponentKind validates a ComponentConfig.Kind field.
// Valid values: "stdio" or "inprocess".
func validateComponentKind(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "stdio", "inprocess":
		return true
	default:
		return false
	}
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error if validation fails, with actionable messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateComponentCommands(); err != nil {
		return err
	}

	return nil
}

// validateComponentCommands ensures every stdio component has a command to spawn.
func (c *Config) validateComponentCommands() error {
	check := func(field string, cc ComponentConfig) error {
		if cc.Kind == "stdio" && cc.Command == "" {
			return fmt.Errorf("%s: command is required when kind is \"stdio\"", field)
		}
		return nil
	}
	for i, p := range c.Pipeline.Proxies {
		if err := check(fmt.Sprintf("pipeline.proxies[%d]", i), p); err != nil {
			return err
		}
	}
	return check("pipeline.agent", c.Pipeline.Agent)
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "component_kind":
		return fmt.Sprintf("%s must be \"stdio\" or \"inprocess\"", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "hostname", "ip":
		return fmt.Sprintf("%s must be a valid host", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
