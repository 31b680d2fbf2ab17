package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides of bootstrap keys.
	EnvPrefix = "ZINSTALL"

	// DefaultListenAddr binds the API to a random loopback port.
	DefaultListenAddr = "127.0.0.1:0"
)

// Bootstrap keys
const (
	KeyName           = "name"
	KeyTargetURL      = "target_url"
	KeyListenAddr     = "listen_addr"
	KeyPackageKeyring = "package_keyring"
)

// BaseAttributes identify the application and where its manifest lives.
type BaseAttributes struct {
	Name      string `json:"name"`
	TargetURL string `json:"target_url"`

	ListenAddr string `json:"-"`

	// Armored OpenPGP public keys trusted for package signatures
	PackageKeyring string `json:"-"`
}

// LoadBaseAttributes reads bootstrap TOML, applies ZINSTALL_* environment
// overrides and validates the result.
func LoadBaseAttributes(data []byte) (*BaseAttributes, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	v.SetDefault(KeyPackageKeyring, "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, &ParseError{Message: "invalid bootstrap attributes", Detail: err.Error(), Err: err}
	}

	attrs := &BaseAttributes{
		Name:           strings.TrimSpace(v.GetString(KeyName)),
		TargetURL:      strings.TrimSpace(v.GetString(KeyTargetURL)),
		ListenAddr:     strings.TrimSpace(v.GetString(KeyListenAddr)),
		PackageKeyring: v.GetString(KeyPackageKeyring),
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Validate checks the required bootstrap fields.
func (a *BaseAttributes) Validate() error {
	if a.Name == "" {
		return &ValidationError{Field: KeyName, Message: "name cannot be empty"}
	}
	if strings.ContainsAny(a.Name, `/\`) {
		return &ValidationError{Field: KeyName, Message: fmt.Sprintf("name %q must not contain path separators", a.Name)}
	}
	if err := validateHTTPURL(a.TargetURL); err != nil {
		return &ValidationError{Field: KeyTargetURL, Message: err.Error()}
	}
	if a.ListenAddr == "" {
		a.ListenAddr = DefaultListenAddr
	}
	return nil
}
