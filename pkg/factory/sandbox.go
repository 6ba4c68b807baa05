package factory

import (
	"fmt"

	"github.com/dop251/goja"
)

// sandbox strips a script runtime of the globals a sniffer has no use for
// and freezes the built-in objects so scripts cannot tamper with them.
func sandbox(vm *goja.Runtime) error {
	if err := removeDangerousGlobals(vm); err != nil {
		return fmt.Errorf("failed to remove dangerous globals: %w", err)
	}
	if err := restrictEval(vm); err != nil {
		return fmt.Errorf("failed to restrict eval: %w", err)
	}
	if err := freezeBuiltins(vm); err != nil {
		return fmt.Errorf("failed to freeze built-ins: %w", err)
	}
	return nil
}

func removeDangerousGlobals(vm *goja.Runtime) error {
	dangerousGlobals := []string{
		"require",
		"module",
		"exports",
		"process",
		"global",
		"__dirname",
		"__filename",
		"Buffer",
		"setImmediate",
		"clearImmediate",
		"setTimeout",
		"setInterval",
	}
	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func restrictEval(vm *goja.Runtime) error {
	return vm.Set("eval", func(call goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("eval is not allowed in sniffer scripts"))
	})
}

func freezeBuiltins(vm *goja.Runtime) error {
	builtins := []string{
		"Object",
		"Array",
		"Function",
		"String",
		"Number",
		"Boolean",
		"Date",
		"RegExp",
		"Error",
		"Math",
		"JSON",
	}

	val, err := vm.RunString(`
		(function() {
			return function(obj) {
				if (obj && (typeof obj === 'object' || typeof obj === 'function')) {
					Object.freeze(obj);
					if (obj.prototype) {
						Object.freeze(obj.prototype);
					}
				}
			};
		})()
	`)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	freeze, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}
	for _, name := range builtins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freeze(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return nil
}
