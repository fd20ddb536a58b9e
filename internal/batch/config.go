package batch

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every Config validation failure.
var ErrInvalidConfig = errors.New("batch: invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config controls when buffered records are flushed. It is fixed for the
// lifetime of a Coordinator; to change it, stop the coordinator and build a
// new one.
type Config struct {
	// BatchSize is the buffer length that fires a size-triggered flush.
	BatchSize int `validate:"gte=1"`

	// FlushInterval is the period of the timer trigger. Zero disables it.
	FlushInterval time.Duration `validate:"gte=0"`

	EnableSizeTrigger  bool
	EnableTimerTrigger bool
}

// DefaultConfig flushes every 10 records or once a minute, whichever comes
// first.
func DefaultConfig() Config {
	return Config{
		BatchSize:          10,
		FlushInterval:      time.Minute,
		EnableSizeTrigger:  true,
		EnableTimerTrigger: true,
	}
}

// Validate checks the configured bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// timerEnabled reports whether Start should spawn the timer loop.
func (c Config) timerEnabled() bool {
	return c.EnableTimerTrigger && c.FlushInterval > 0
}
