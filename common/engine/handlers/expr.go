package handlers

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"google.golang.org/protobuf/types/known/structpb"
)

// Evaluator compiles and runs CEL expressions with a compiled-program cache.
// Shared by condition and code_job handlers; safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator creates an evaluator with an empty cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Eval runs an expression against the given scopes. `inputs` carries the
// node's decoded input values, `vars` the execution variables; both are also
// spread at the top level so `x > 5` works without a prefix.
func (e *Evaluator) Eval(expr string, inputs, vars map[string]interface{}) (interface{}, error) {
	prg, err := e.program(expr, inputs, vars)
	if err != nil {
		return nil, err
	}

	activation := map[string]interface{}{
		"inputs": inputs,
		"vars":   vars,
	}
	for k, v := range vars {
		activation[k] = v
	}
	for k, v := range inputs {
		activation[k] = v
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}

	// Convert through structpb so maps and lists come back as plain Go
	// values instead of CEL ref types.
	if native, err := out.ConvertToNative(reflect.TypeOf(&structpb.Value{})); err == nil {
		return native.(*structpb.Value).AsInterface(), nil
	}
	return out.Value(), nil
}

// EvalBool runs an expression that must produce a boolean.
func (e *Evaluator) EvalBool(expr string, inputs, vars map[string]interface{}) (bool, error) {
	value, err := e.Eval(expr, inputs, vars)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expr, value)
	}
	return b, nil
}

func (e *Evaluator) program(expr string, inputs, vars map[string]interface{}) (cel.Program, error) {
	// The top-level identifiers depend on the scope's keys, so the cache key
	// includes them implicitly: recompilation only happens for new names.
	key := expr + "\x00" + scopeSignature(inputs, vars)

	e.mu.RLock()
	prg, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	decls := []cel.EnvOption{
		cel.Variable("inputs", cel.DynType),
		cel.Variable("vars", cel.DynType),
	}
	for k := range vars {
		decls = append(decls, cel.Variable(k, cel.DynType))
	}
	for k := range inputs {
		decls = append(decls, cel.Variable(k, cel.DynType))
	}

	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, fmt.Errorf("create expression env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[key] = prg
	e.mu.Unlock()
	return prg, nil
}

// CacheSize reports how many compiled programs are cached.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func scopeSignature(scopes ...map[string]interface{}) string {
	sig := ""
	for _, scope := range scopes {
		keys := make([]string, 0, len(scope))
		for k := range scope {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sig += strings.Join(keys, ",") + ";"
	}
	return sig
}
