package config

import (
	"fmt"
	"time"

	"github.com/hemipt-dev/hemipt/internal/herrors"
)

// ParseDuration parses the `time` option's `[Nh][Nm][Ns]` format (spec.md
// §6). An empty string means "no deadline".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &herrors.ConfigurationError{Msg: fmt.Sprintf("invalid time %q: %v", s, err)}
	}
	return d, nil
}
