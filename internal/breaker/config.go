package breaker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	xerrors "AgentRouter/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the validated configuration of one breaker. Every field is
// required; defaults belong to the application configuration layer.
type Config struct {
	Name             string        `json:"name" validate:"required"`
	FailureThreshold int           `json:"failure_threshold" validate:"min=1"`
	SuccessThreshold int           `json:"success_threshold" validate:"min=1"`
	Timeout          time.Duration `json:"timeout" validate:"gt=0"`
	ResetTimeout     time.Duration `json:"reset_timeout" validate:"gt=0"`
	// MonitoringWindow is reported but not applied: failures are counted
	// cumulatively since the last reset.
	MonitoringWindow time.Duration `json:"monitoring_window" validate:"gt=0"`
	// HalfOpenMaxAttempts is reserved; concurrent probes are not limited.
	HalfOpenMaxAttempts int `json:"half_open_max_attempts" validate:"min=1"`
}

// Validate returns a CONFIGURATION_ERROR describing every invalid field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "validate breaker config")
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return xerrors.New(xerrors.CodeConfiguration,
		fmt.Sprintf("breaker %q: %s", c.Name, strings.Join(problems, "; ")),
		xerrors.WithMetadata("breaker", c.Name))
}
