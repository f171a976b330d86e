// Package env holds the shell's variables and decides which of them are
// passed to child processes.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/expand"
)

// VEnv is the environment interface shared by the shell and its builtins.
type VEnv interface {
	// Unsetenv unsets a single variable.
	Unsetenv(key string) error

	// Setenv sets the value of the variable named by the key and marks it
	// for export.
	Setenv(key, value string) error

	// LookupEnv retrieves the value of the variable named by the key.
	// If the variable is present the value (which may be empty) is returned
	// and the boolean is true. Otherwise the returned value will be empty
	// and the boolean will be false.
	LookupEnv(key string) (string, bool)

	// Getenv retrieves the value of the variable named by the key.
	// It returns the value, which will be empty if the variable is not
	// present. To distinguish between an empty value and an unset value,
	// use LookupEnv.
	Getenv(key string) string

	// Environ returns a copy of the exported variables in the form
	// "key=value".
	Environ() []string
}

// CopyEnv copies every "key=value" entry of src into dst.
func CopyEnv(dst VEnv, src []string) error {
	for _, e := range src {
		key, value := splitEntry(e)
		if err := dst.Setenv(key, value); err != nil {
			return err
		}
	}

	return nil
}

func splitEntry(e string) (key, value string) {
	split := strings.SplitN(e, "=", 2)
	key = split[0]
	if len(split) > 1 {
		value = split[1]
	}
	return
}

// NewMapEnv creates a new environment backed by a map.
func NewMapEnv() *MapEnv {
	return &MapEnv{}
}

// NewMapEnvFromEnvList creates an environment where every entry of environ
// is exported.
func NewMapEnvFromEnvList(environ []string) *MapEnv {
	out := &MapEnv{}
	// Ignore error, it will never be set for MapEnv.
	_ = CopyEnv(out, environ)
	return out
}

// NewMapEnvFromOS copies the process environment.
func NewMapEnvFromOS() *MapEnv {
	return NewMapEnvFromEnvList(os.Environ())
}

// MapEnv implements an in-memory VEnv and the expansion environment of
// mvdan.cc/sh.
type MapEnv struct {
	rw       sync.RWMutex
	env      map[string]string
	exported map[string]bool
}

var _ VEnv = (*MapEnv)(nil)
var _ expand.WriteEnviron = (*MapEnv)(nil)

func (m *MapEnv) init() {
	if m.env == nil {
		m.env = make(map[string]string)
		m.exported = make(map[string]bool)
	}
}

// Unsetenv implements VEnv.Unsetenv.
func (m *MapEnv) Unsetenv(key string) error {
	m.rw.Lock()
	defer m.rw.Unlock()
	if m.env != nil {
		delete(m.env, key)
		delete(m.exported, key)
	}
	return nil
}

// Setenv implements VEnv.Setenv.
func (m *MapEnv) Setenv(key, value string) error {
	if key == "" || strings.ContainsAny(key, "= ") {
		return fmt.Errorf("%q: not a valid identifier", key)
	}

	m.rw.Lock()
	defer m.rw.Unlock()
	m.init()
	m.env[key] = value
	m.exported[key] = true
	return nil
}

// SetLocal sets a shell variable without changing whether it is exported.
func (m *MapEnv) SetLocal(key, value string) error {
	if key == "" || strings.ContainsAny(key, "= ") {
		return fmt.Errorf("%q: not a valid identifier", key)
	}

	m.rw.Lock()
	defer m.rw.Unlock()
	m.init()
	m.env[key] = value
	return nil
}

// Export marks an existing variable for export, creating it empty if it
// doesn't exist yet.
func (m *MapEnv) Export(key string) {
	m.rw.Lock()
	defer m.rw.Unlock()
	m.init()
	if _, ok := m.env[key]; !ok {
		m.env[key] = ""
	}
	m.exported[key] = true
}

// IsExported reports whether key is passed to child processes.
func (m *MapEnv) IsExported(key string) bool {
	m.rw.RLock()
	defer m.rw.RUnlock()
	return m.exported[key]
}

// LookupEnv implements VEnv.LookupEnv.
func (m *MapEnv) LookupEnv(key string) (string, bool) {
	m.rw.RLock()
	defer m.rw.RUnlock()

	val, ok := m.env[key]
	return val, ok
}

// Getenv implements VEnv.Getenv.
func (m *MapEnv) Getenv(key string) string {
	val, _ := m.LookupEnv(key)
	return val
}

// Environ implements VEnv.Environ. Entries are sorted by key.
func (m *MapEnv) Environ() []string {
	m.rw.RLock()
	defer m.rw.RUnlock()

	var env []string
	for k, v := range m.env {
		if m.exported[k] {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	sort.Strings(env)
	return env
}

// Names returns every variable name, exported or not, in sorted order.
func (m *MapEnv) Names() []string {
	m.rw.RLock()
	defer m.rw.RUnlock()

	var names []string
	for k := range m.env {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clearenv deletes all variables.
func (m *MapEnv) Clearenv() {
	m.rw.Lock()
	defer m.rw.Unlock()
	m.env = make(map[string]string)
	m.exported = make(map[string]bool)
}

// Get implements expand.Environ.
func (m *MapEnv) Get(name string) expand.Variable {
	m.rw.RLock()
	defer m.rw.RUnlock()

	val, ok := m.env[name]
	if !ok {
		return expand.Variable{}
	}
	return expand.Variable{
		Exported: m.exported[name],
		Kind:     expand.String,
		Str:      val,
	}
}

// Each implements expand.Environ.
func (m *MapEnv) Each(fn func(name string, vr expand.Variable) bool) {
	for _, name := range m.Names() {
		if !fn(name, m.Get(name)) {
			return
		}
	}
}

// Set implements expand.WriteEnviron for plain string values.
func (m *MapEnv) Set(name string, vr expand.Variable) error {
	switch vr.Kind {
	case expand.String:
	case expand.Unset:
		return m.Unsetenv(name)
	default:
		return fmt.Errorf("%s: only string variables are supported", name)
	}

	if err := m.SetLocal(name, vr.Str); err != nil {
		return err
	}
	if vr.Exported {
		m.Export(name)
	}
	return nil
}
