package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// MaxManifestSize bounds the size of a manifest accepted by Parse.
const MaxManifestSize = 8 << 20

// ParseError represents a manifest parsing error with a friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes and validates a TOML manifest.
func Parse(data []byte) (*Config, error) {
	if len(data) > MaxManifestSize {
		return nil, &ParseError{
			Message: "manifest too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", len(data), MaxManifestSize),
		}
	}

	cfg := &Config{}
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
		detail := err.Error()
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			detail = fmt.Sprintf("line %d, column %d: %s", row, col, decodeErr.Error())
		}
		return nil, &ParseError{Message: "invalid TOML manifest", Detail: detail, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{Message: "manifest validation failed", Detail: err.Error(), Err: err}
	}

	cfg.normalize()
	return cfg, nil
}

// ParseString parses a manifest held in a string.
func ParseString(s string) (*Config, error) {
	return Parse([]byte(s))
}

// JSON renders the manifest in the form the UI consumes.
func (c *Config) JSON() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("render manifest json: %w", err)
	}
	return data, nil
}

// normalize replaces nil lists with empty ones so the JSON form always
// carries arrays.
func (c *Config) normalize() {
	if c.Channels == nil {
		c.Channels = []Channel{}
	}
	if c.Packages == nil {
		c.Packages = []Package{}
	}
	for i := range c.Packages {
		if c.Packages[i].Shortcuts == nil {
			c.Packages[i].Shortcuts = []Shortcut{}
		}
	}
}
