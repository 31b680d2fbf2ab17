package tasks

import (
	"reflect"
	"testing"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
)

func TestStepKindString(t *testing.T) {
	tests := []struct {
		kind StepKind
		want string
	}{
		{StepDownload, "download"},
		{StepVerify, "verify"},
		{StepExtract, "extract"},
		{StepRegister, "register"},
		{StepUninstall, "uninstall"},
		{StepKind(42), "StepKind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("StepKind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestInstallPlan(t *testing.T) {
	pkgs := []config.Package{{Name: "core"}, {Name: "extras"}}

	want := []Step{
		{StepDownload, "core"},
		{StepDownload, "extras"},
		{StepVerify, "core"},
		{StepExtract, "core"},
		{StepRegister, "core"},
		{StepVerify, "extras"},
		{StepExtract, "extras"},
		{StepRegister, "extras"},
	}
	if got := InstallPlan(pkgs); !reflect.DeepEqual(got, want) {
		t.Errorf("InstallPlan() = %v, want %v", got, want)
	}

	if got := InstallPlan(nil); len(got) != 0 {
		t.Errorf("InstallPlan(nil) = %v, want empty", got)
	}
}

func TestUninstallPlan(t *testing.T) {
	db := installer.NewDatabase()
	db.Upsert(installer.LocalInstallation{Name: "core"})
	db.Upsert(installer.LocalInstallation{Name: "extras"})

	got := UninstallPlan(db, []string{"extras", "missing", "extras", "core"})
	want := []Step{{StepUninstall, "extras"}, {StepUninstall, "core"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UninstallPlan() = %v, want %v", got, want)
	}
}

func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Step: Step{Kind: StepExtract, Package: "core"}, Err: ErrNotInstalled}
	if got := err.Error(); got != "extract core: package not installed" {
		t.Errorf("Error() = %q", got)
	}
}
