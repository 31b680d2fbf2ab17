// Package tasks runs install and uninstall plans against the install
// directory.
//
// A plan is a flat list of steps. Step kinds form a closed set and every
// step is executed by the single dispatch in Pipeline.run.
package tasks

import (
	"fmt"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
)

// StepKind identifies what a step does.
type StepKind int

const (
	// StepDownload fetches the package archive and its signature.
	StepDownload StepKind = iota
	// StepVerify checks the digest and signature of the archive.
	StepVerify
	// StepExtract unpacks the archive into a staging directory.
	StepExtract
	// StepRegister moves staged files into place and records the package.
	StepRegister
	// StepUninstall removes the recorded files of a package.
	StepUninstall
)

func (k StepKind) String() string {
	switch k {
	case StepDownload:
		return "download"
	case StepVerify:
		return "verify"
	case StepExtract:
		return "extract"
	case StepRegister:
		return "register"
	case StepUninstall:
		return "uninstall"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is one unit of work on one package.
type Step struct {
	Kind    StepKind
	Package string
}

func (s Step) String() string {
	return s.Kind.String() + " " + s.Package
}

// StepError reports the step that failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Step.Kind, e.Step.Package, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// InstallPlan returns the steps installing pkgs. All downloads come first
// so they can run concurrently; the remaining steps run per package in
// request order.
func InstallPlan(pkgs []config.Package) []Step {
	steps := make([]Step, 0, len(pkgs)*4)
	for _, pkg := range pkgs {
		steps = append(steps, Step{Kind: StepDownload, Package: pkg.Name})
	}
	for _, pkg := range pkgs {
		steps = append(steps,
			Step{Kind: StepVerify, Package: pkg.Name},
			Step{Kind: StepExtract, Package: pkg.Name},
			Step{Kind: StepRegister, Package: pkg.Name},
		)
	}
	return steps
}

// UninstallPlan returns the steps removing the named packages. Names not
// present in db are skipped.
func UninstallPlan(db *installer.Database, names []string) []Step {
	steps := make([]Step, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := db.Package(name); ok {
			steps = append(steps, Step{Kind: StepUninstall, Package: name})
		}
	}
	return steps
}
