package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/archive"
)

const fullManifest = `
installing_message = "Please wait while the engine installs."
new_tool = "https://dl.example.com/maintenancetool"
hide_advanced = true

[[channels]]
name = "stable"
description = "Stable releases"

[[channels]]
name = "nightly"
description = "Nightly builds"
requires_authorization = true

[[packages]]
name = "engine"
description = "The main engine"
default = true
channel = "stable"
version = "1.4.2"
url = "https://dl.example.com/engine-1.4.2.tar.xz"
format = "tar.xz"
sha256 = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
signature_url = "https://dl.example.com/engine-1.4.2.tar.xz.sig"
condition = "platform.is_linux"

  [[packages.shortcuts]]
  name = "Engine"
  description = "Launch the engine"
  relative_path = "bin/engine"

[[packages]]
name = "engine-nightly"
description = "Bleeding edge"
channel = "nightly"
version = "1.5.0-dev"
url = "https://dl.example.com/engine-nightly.zip"
format = "zip"

[authentication]
auth_url = "https://auth.example.com/verify"
pub_key_base64 = "MIIBIjAN"

  [authentication.validation]
  iss = "auth.example.com"
  aud = "installer"
`

func TestParse_FullManifest(t *testing.T) {
	cfg, err := ParseString(fullManifest)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.InstallingMessage != "Please wait while the engine installs." {
		t.Errorf("InstallingMessage = %q", cfg.InstallingMessage)
	}
	if !cfg.HideAdvanced {
		t.Error("HideAdvanced should be true")
	}
	if len(cfg.Channels) != 2 || !cfg.Channels[1].RequiresAuthorization {
		t.Errorf("Channels = %+v", cfg.Channels)
	}
	if len(cfg.Packages) != 2 {
		t.Fatalf("len(Packages) = %d, want 2", len(cfg.Packages))
	}

	engine := cfg.Packages[0]
	if engine.Format != archive.FormatTarXz {
		t.Errorf("Format = %q", engine.Format)
	}
	if len(engine.Shortcuts) != 1 || engine.Shortcuts[0].RelativePath != "bin/engine" {
		t.Errorf("Shortcuts = %+v", engine.Shortcuts)
	}
	if cfg.Packages[1].Shortcuts == nil {
		t.Error("Shortcuts should be normalized to an empty slice")
	}

	auth := cfg.Authentication
	if auth == nil {
		t.Fatal("Authentication should be set")
	}
	if auth.SignatureAlgorithm() != DefaultAlgorithm {
		t.Errorf("SignatureAlgorithm() = %q", auth.SignatureAlgorithm())
	}
	if auth.Validation == nil || auth.Validation.Issuer != "auth.example.com" || auth.Validation.Audience != "installer" {
		t.Errorf("Validation = %+v", auth.Validation)
	}
}

func TestParse_Minimal(t *testing.T) {
	cfg, err := ParseString(`installing_message = "hi"`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Authentication != nil {
		t.Error("Authentication should be nil when the table is absent")
	}

	data, err := cfg.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if !strings.Contains(string(data), `"channels":[]`) || !strings.Contains(string(data), `"packages":[]`) {
		t.Errorf("JSON() = %s, want empty arrays", data)
	}
	if strings.Contains(string(data), "authentication") {
		t.Errorf("JSON() = %s, should omit authentication", data)
	}
}

// The JSON form must carry every channel and package of the TOML form.
func TestParse_JSONRoundTrip(t *testing.T) {
	cfg, err := ParseString(fullManifest)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	data, err := cfg.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var decoded Config
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	if len(decoded.Channels) != len(cfg.Channels) {
		t.Fatalf("channels: got %d, want %d", len(decoded.Channels), len(cfg.Channels))
	}
	for i := range cfg.Channels {
		if decoded.Channels[i] != cfg.Channels[i] {
			t.Errorf("channel %d: got %+v, want %+v", i, decoded.Channels[i], cfg.Channels[i])
		}
	}

	if len(decoded.Packages) != len(cfg.Packages) {
		t.Fatalf("packages: got %d, want %d", len(decoded.Packages), len(cfg.Packages))
	}
	for i, want := range cfg.Packages {
		got := decoded.Packages[i]
		if got.Name != want.Name || got.Version != want.Version || got.URL != want.URL ||
			got.Format != want.Format || got.SHA256 != want.SHA256 || got.Channel != want.Channel ||
			got.Condition != want.Condition || got.SignatureURL != want.SignatureURL || got.Default != want.Default {
			t.Errorf("package %d: got %+v, want %+v", i, got, want)
		}
		if len(got.Shortcuts) != len(want.Shortcuts) {
			t.Errorf("package %d shortcuts: got %d, want %d", i, len(got.Shortcuts), len(want.Shortcuts))
		}
	}

	if decoded.Authentication == nil || *decoded.Authentication.Validation != *cfg.Authentication.Validation {
		t.Errorf("authentication lost: %+v", decoded.Authentication)
	}
	if decoded.NewTool != cfg.NewTool {
		t.Errorf("NewTool = %q, want %q", decoded.NewTool, cfg.NewTool)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		errMsg string
	}{
		{
			name:   "toml syntax",
			input:  `installing_message = "unterminated`,
			errMsg: "invalid TOML manifest",
		},
		{
			name:   "unknown format",
			input:  "[[packages]]\nname = \"a\"\nurl = \"https://x.test/a\"\nformat = \"rar\"",
			errMsg: "invalid TOML manifest",
		},
		{
			name:   "missing format",
			input:  "[[packages]]\nname = \"a\"\nurl = \"https://x.test/a\"",
			errMsg: "packages[0].format",
		},
		{
			name:   "validation failure",
			input:  "[[packages]]\nname = \"a\"\nurl = \"ftp://x.test/a\"\nformat = \"zip\"",
			errMsg: "packages[0].url",
		},
		{
			name:   "auth without url",
			input:  "[authentication]\npub_key_base64 = \"\"",
			errMsg: "authentication.auth_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.input)
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %T (%v)", err, err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q should contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestParse_TooLarge(t *testing.T) {
	data := make([]byte, MaxManifestSize+1)
	if _, err := Parse(data); err == nil {
		t.Error("expected error for oversized manifest")
	}
}

func FuzzParse(f *testing.F) {
	f.Add(fullManifest)
	f.Add(`installing_message = "x"`)
	f.Add("[[packages]]\nname = \"\"")

	f.Fuzz(func(t *testing.T, input string) {
		cfg, err := ParseString(input)
		if err != nil {
			return
		}
		if _, err := cfg.JSON(); err != nil {
			t.Errorf("JSON() failed on parsed manifest: %v", err)
		}
	})
}
