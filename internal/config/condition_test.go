package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/platform"
)

var (
	linuxAMD64 = &platform.Info{OS: "linux", Arch: "amd64", Distro: "ubuntu", Family: platform.FamilyDebian}
	macARM64   = &platform.Info{OS: "darwin", Arch: "arm64"}
)

func TestEvalCondition(t *testing.T) {
	tests := []struct {
		name string
		expr string
		info *platform.Info
		want bool
	}{
		{"empty is true", "", macARM64, true},
		{"os match", "platform.is_linux", linuxAMD64, true},
		{"os mismatch", "platform.is_linux", macARM64, false},
		{"arch compare", "platform.arch == 'arm64'", macARM64, true},
		{"family", "platform.family == 'debian'", linuxAMD64, true},
		{"matches helper", "platform.matches('darwin', 'arm64')", macARM64, true},
		{"nil is false", "platform.distro", macARM64, false},
		{"string lib available", "string.find(platform.os, 'lin') ~= nil", linuxAMD64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalCondition(context.Background(), tt.info, tt.expr)
			if err != nil {
				t.Fatalf("evalCondition() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("evalCondition(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalCondition_Sandboxed(t *testing.T) {
	exprs := []string{
		"os.execute('true')",
		"io.open('/etc/passwd')",
		"require('os')",
		"load('return 1')()",
		"debug.getinfo(1)",
		")(",
	}

	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			if _, err := evalCondition(context.Background(), linuxAMD64, expr); err == nil {
				t.Errorf("expected error for %q", expr)
			}
		})
	}
}

func TestEvalCondition_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := evalCondition(ctx, linuxAMD64, "(function() while true do end end)()")
	if err == nil {
		t.Fatal("expected error from runaway condition")
	}
	if time.Since(start) > time.Second {
		t.Errorf("condition ran for %v, should stop at the deadline", time.Since(start))
	}
}

func TestPackagesFor(t *testing.T) {
	cfg := &Config{Packages: []Package{
		validPackage("common"),
		func() Package { p := validPackage("linux-only"); p.Condition = "platform.is_linux"; return p }(),
		func() Package { p := validPackage("mac-only"); p.Condition = "platform.is_macos"; return p }(),
	}}

	tests := []struct {
		info *platform.Info
		want []string
	}{
		{linuxAMD64, []string{"common", "linux-only"}},
		{macARM64, []string{"common", "mac-only"}},
	}

	for _, tt := range tests {
		t.Run(tt.info.OS, func(t *testing.T) {
			got, err := cfg.PackagesFor(context.Background(), tt.info)
			if err != nil {
				t.Fatalf("PackagesFor() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d packages, want %d", len(got), len(tt.want))
			}
			for i, name := range tt.want {
				if got[i].Name != name {
					t.Errorf("package %d = %q, want %q", i, got[i].Name, name)
				}
			}
		})
	}
}

func TestPackagesFor_BadCondition(t *testing.T) {
	p := validPackage("broken")
	p.Condition = "platform.nope.deeper"
	cfg := &Config{Packages: []Package{p}}

	_, err := cfg.PackagesFor(context.Background(), linuxAMD64)
	var condErr *ConditionError
	if !errors.As(err, &condErr) {
		t.Fatalf("expected *ConditionError, got %v", err)
	}
	if condErr.Package != "broken" {
		t.Errorf("Package = %q", condErr.Package)
	}
}

func TestVisibleChannelsAndAvailable(t *testing.T) {
	cfg := &Config{
		Channels: []Channel{
			{Name: "stable"},
			{Name: "nightly", RequiresAuthorization: true},
		},
		Packages: []Package{
			func() Package { p := validPackage("engine"); p.Channel = "stable"; return p }(),
			func() Package { p := validPackage("engine-dev"); p.Channel = "nightly"; return p }(),
			validPackage("docs"),
		},
	}

	if got := cfg.VisibleChannels(nil); len(got) != 1 || got[0].Name != "stable" {
		t.Errorf("VisibleChannels(nil) = %+v", got)
	}
	if got := cfg.VisibleChannels([]string{"nightly"}); len(got) != 2 {
		t.Errorf("VisibleChannels(nightly) = %+v", got)
	}

	pkgs, err := cfg.Available(context.Background(), linuxAMD64, nil)
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if len(pkgs) != 2 || pkgs[0].Name != "engine" || pkgs[1].Name != "docs" {
		t.Errorf("Available(nil) = %+v", pkgs)
	}

	pkgs, err = cfg.Available(context.Background(), linuxAMD64, []string{"nightly"})
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if len(pkgs) != 3 {
		t.Errorf("Available(nightly) returned %d packages, want 3", len(pkgs))
	}
	if len(cfg.Packages) != 3 || cfg.Packages[1].Name != "engine-dev" {
		t.Error("Available must not reorder the manifest")
	}
}
