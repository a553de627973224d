package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from human-readable YAML
// strings ("30s", "5m") as well as bare nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(asInt)

		return nil
	}

	var asString string
	if err := node.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}

	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", asString, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
