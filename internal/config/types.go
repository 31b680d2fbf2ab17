package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/archive"
)

// DefaultAlgorithm is the token signature algorithm used when the
// authentication policy names none.
const DefaultAlgorithm = "RS256"

// Config is a parsed remote manifest.
type Config struct {
	// Message shown while packages install
	InstallingMessage string `toml:"installing_message" json:"installing_message"`

	// URL of a newer maintenance tool, if one is published
	NewTool string `toml:"new_tool,omitempty" json:"new_tool,omitempty"`

	HideAdvanced bool `toml:"hide_advanced" json:"hide_advanced"`

	Channels []Channel `toml:"channels" json:"channels"`
	Packages []Package `toml:"packages" json:"packages"`

	// Optional; nil means the deployment has no authentication gate
	Authentication *AuthenticationConfig `toml:"authentication,omitempty" json:"authentication,omitempty"`
}

// Channel is a release channel packages can be published on.
type Channel struct {
	Name                  string `toml:"name" json:"name"`
	Description           string `toml:"description" json:"description"`
	RequiresAuthorization bool   `toml:"requires_authorization" json:"requires_authorization"`
}

// Package is one installable component.
type Package struct {
	Name         string         `toml:"name" json:"name"`
	Description  string         `toml:"description" json:"description"`
	Default      bool           `toml:"default" json:"default"`
	Channel      string         `toml:"channel,omitempty" json:"channel,omitempty"`
	Version      string         `toml:"version" json:"version"`
	URL          string         `toml:"url" json:"url"`
	Format       archive.Format `toml:"format" json:"format"`
	SHA256       string         `toml:"sha256,omitempty" json:"sha256,omitempty"`
	SignatureURL string         `toml:"signature_url,omitempty" json:"signature_url,omitempty"`

	// Lua expression; empty means the package applies everywhere
	Condition string `toml:"condition,omitempty" json:"condition,omitempty"`

	Shortcuts []Shortcut `toml:"shortcuts,omitempty" json:"shortcuts"`
}

// Shortcut is a launcher entry created for an installed package.
type Shortcut struct {
	Name         string `toml:"name" json:"name"`
	Description  string `toml:"description" json:"description"`
	RelativePath string `toml:"relative_path" json:"relative_path"`
}

// AuthenticationConfig is the manifest's authentication policy.
type AuthenticationConfig struct {
	AuthURL string `toml:"auth_url" json:"auth_url"`

	// Base64 of the DER-encoded verification key. Empty disables signature
	// verification of returned tokens.
	PubKeyBase64 string `toml:"pub_key_base64" json:"pub_key_base64"`

	Algorithm  string          `toml:"algorithm,omitempty" json:"algorithm,omitempty"`
	Validation *ValidationRule `toml:"validation,omitempty" json:"validation,omitempty"`
}

// SignatureAlgorithm returns the configured algorithm or DefaultAlgorithm.
func (a *AuthenticationConfig) SignatureAlgorithm() string {
	if a.Algorithm == "" {
		return DefaultAlgorithm
	}
	return strings.ToUpper(a.Algorithm)
}

// ValidationRule constrains the claims of returned tokens.
type ValidationRule struct {
	Issuer   string `toml:"iss" json:"iss"`
	Audience string `toml:"aud,omitempty" json:"aud,omitempty"`
}

// Channel returns the named channel.
func (c *Config) Channel(name string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// Package returns the named package.
func (c *Config) Package(name string) (Package, bool) {
	for _, p := range c.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// Validate performs structural validation on a Config.
func (c *Config) Validate() error {
	channels := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("channels[%d].name", i), Message: "name cannot be empty"}
		}
		if channels[ch.Name] {
			return &ValidationError{Field: fmt.Sprintf("channels[%d].name", i), Message: fmt.Sprintf("duplicate channel %q", ch.Name)}
		}
		channels[ch.Name] = true
	}

	seen := make(map[string]bool, len(c.Packages))
	for i, p := range c.Packages {
		field := fmt.Sprintf("packages[%d]", i)
		if err := validatePackageName(p.Name); err != nil {
			return &ValidationError{Field: field + ".name", Message: err.Error()}
		}
		if seen[p.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate package %q", p.Name)}
		}
		seen[p.Name] = true

		if err := validateHTTPURL(p.URL); err != nil {
			return &ValidationError{Field: field + ".url", Message: err.Error()}
		}
		if p.SignatureURL != "" {
			if err := validateHTTPURL(p.SignatureURL); err != nil {
				return &ValidationError{Field: field + ".signature_url", Message: err.Error()}
			}
		}
		if !p.Format.Valid() {
			return &ValidationError{Field: field + ".format", Message: fmt.Sprintf("unsupported archive format %q", p.Format)}
		}
		if p.Channel != "" && !channels[p.Channel] {
			return &ValidationError{Field: field + ".channel", Message: fmt.Sprintf("unknown channel %q", p.Channel)}
		}
	}

	if c.NewTool != "" {
		if err := validateHTTPURL(c.NewTool); err != nil {
			return &ValidationError{Field: "new_tool", Message: err.Error()}
		}
	}

	if a := c.Authentication; a != nil {
		if err := validateHTTPURL(a.AuthURL); err != nil {
			return &ValidationError{Field: "authentication.auth_url", Message: err.Error()}
		}
	}

	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

// validatePackageName rejects names that are not a single path element.
func validatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("name %q must not contain path separators or dot segments", name)
	}
	return nil
}

// validateHTTPURL requires an absolute http or https URL.
func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("url must use https:// or http:// scheme (got: %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host: %q", raw)
	}
	return nil
}
