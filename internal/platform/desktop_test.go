package platform

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRunner struct {
	outputs  map[string]string
	fail     map[string]bool
	started  []string
	startErr error
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	for prefix, out := range f.outputs {
		if strings.HasPrefix(key, prefix) {
			return []byte(out), nil
		}
	}
	return nil, errors.New("command failed: " + key)
}

func (f *fakeRunner) Start(name string, args ...string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, strings.Join(append([]string{name}, args...), " "))
	return nil
}

func TestDarkMode(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		outputs map[string]string
		want    bool
	}{
		{
			name:    "windows dark",
			goos:    "windows",
			outputs: map[string]string{"reg query": "    AppsUseLightTheme    REG_DWORD    0x0\n"},
			want:    true,
		},
		{
			name:    "windows light",
			goos:    "windows",
			outputs: map[string]string{"reg query": "    AppsUseLightTheme    REG_DWORD    0x1\n"},
		},
		{
			name:    "macos dark",
			goos:    "darwin",
			outputs: map[string]string{"defaults read": "Dark\n"},
			want:    true,
		},
		{
			name: "macos light has no key",
			goos: "darwin",
		},
		{
			name:    "gnome color scheme",
			goos:    "linux",
			outputs: map[string]string{"gsettings get org.gnome.desktop.interface color-scheme": "'prefer-dark'\n"},
			want:    true,
		},
		{
			name: "gtk theme fallback",
			goos: "linux",
			outputs: map[string]string{
				"gsettings get org.gnome.desktop.interface color-scheme": "'default'\n",
				"gsettings get org.gnome.desktop.interface gtk-theme":    "'Adwaita-Dark'\n",
			},
			want: true,
		},
		{
			name: "no gsettings",
			goos: "linux",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDesktopFor(tt.goos, &fakeRunner{outputs: tt.outputs})
			if got := d.DarkMode(context.Background()); got != tt.want {
				t.Errorf("DarkMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenBrowser(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"windows", "rundll32 url.dll,FileProtocolHandler https://example.com/docs"},
		{"darwin", "open https://example.com/docs"},
		{"linux", "xdg-open https://example.com/docs"},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			runner := &fakeRunner{}
			d := NewDesktopFor(tt.goos, runner)
			if err := d.OpenBrowser(context.Background(), "https://example.com/docs"); err != nil {
				t.Fatalf("OpenBrowser() error = %v", err)
			}
			if len(runner.started) != 1 || runner.started[0] != tt.want {
				t.Errorf("started = %v, want %q", runner.started, tt.want)
			}
		})
	}
}

func TestOpenBrowserErrors(t *testing.T) {
	d := NewDesktopFor("linux", &fakeRunner{})

	for _, raw := range []string{"file:///etc/passwd", "javascript:alert(1)", "not a url"} {
		if err := d.OpenBrowser(context.Background(), raw); !errors.Is(err, ErrUnsupportedURL) {
			t.Errorf("OpenBrowser(%q) error = %v, want ErrUnsupportedURL", raw, err)
		}
	}

	failing := NewDesktopFor("linux", &fakeRunner{startErr: errors.New("no xdg-open")})
	if err := failing.OpenBrowser(context.Background(), "https://example.com"); err == nil {
		t.Error("expected launch error")
	}
}
