package config

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// conditionTimeout bounds the evaluation of all conditions of one manifest.
const conditionTimeout = 2 * time.Second

// ConditionError reports a package condition that failed to evaluate.
type ConditionError struct {
	Package   string
	Condition string
	Err       error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("evaluate condition of package %q (%s): %v", e.Package, e.Condition, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

// conditionVM evaluates condition expressions against one platform.
type conditionVM struct {
	L *lua.LState
}

func newConditionVM(ctx context.Context, info *platform.Info) *conditionVM {
	L := newSandboxedVM()
	L.SetContext(ctx)
	platform.Inject(L, info)
	return &conditionVM{L: L}
}

func (vm *conditionVM) close() {
	vm.L.Close()
}

// eval returns the truthiness of expr.
func (vm *conditionVM) eval(expr string) (bool, error) {
	fn, err := vm.L.LoadString("return " + expr)
	if err != nil {
		return false, err
	}

	vm.L.Push(fn)
	if err := vm.L.PCall(0, 1, nil); err != nil {
		return false, err
	}
	result := vm.L.Get(-1)
	vm.L.Pop(1)

	return lua.LVAsBool(result), nil
}

// evalCondition evaluates a single condition expression. An empty
// expression is always true.
func evalCondition(ctx context.Context, info *platform.Info, expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, conditionTimeout)
	defer cancel()

	vm := newConditionVM(ctx, info)
	defer vm.close()
	return vm.eval(expr)
}

// PackagesFor returns the packages whose condition holds on info, in
// manifest order.
func (c *Config) PackagesFor(ctx context.Context, info *platform.Info) ([]Package, error) {
	ctx, cancel := context.WithTimeout(ctx, conditionTimeout)
	defer cancel()

	var vm *conditionVM
	defer func() {
		if vm != nil {
			vm.close()
		}
	}()

	visible := make([]Package, 0, len(c.Packages))
	for _, p := range c.Packages {
		if p.Condition == "" {
			visible = append(visible, p)
			continue
		}

		if vm == nil {
			vm = newConditionVM(ctx, info)
		}
		ok, err := vm.eval(p.Condition)
		if err != nil {
			return nil, &ConditionError{Package: p.Name, Condition: p.Condition, Err: err}
		}
		if ok {
			visible = append(visible, p)
		}
	}

	return visible, nil
}

// VisibleChannels returns the channels a user may see. Channels that
// require authorization are included only when listed in allowed.
func (c *Config) VisibleChannels(allowed []string) []Channel {
	visible := make([]Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.RequiresAuthorization && !slices.Contains(allowed, ch.Name) {
			continue
		}
		visible = append(visible, ch)
	}
	return visible
}

// Available combines PackagesFor and VisibleChannels: the packages that
// apply on info and are published on a channel the user may see.
func (c *Config) Available(ctx context.Context, info *platform.Info, allowed []string) ([]Package, error) {
	pkgs, err := c.PackagesFor(ctx, info)
	if err != nil {
		return nil, err
	}

	channels := make(map[string]bool)
	for _, ch := range c.VisibleChannels(allowed) {
		channels[ch.Name] = true
	}

	available := pkgs[:0]
	for _, p := range pkgs {
		if p.Channel == "" || channels[p.Channel] {
			available = append(available, p)
		}
	}
	return available, nil
}
