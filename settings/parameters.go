package settings

import (
	"errors"
	"fmt"
	"strings"
)

// Renderer is implemented by every settings variant.
type Renderer interface {
	// Render returns the iperf command-line options, each prefixed with a
	// space, in canonical order.
	Render() (string, error)
}

// option describes a single iperf long option.
type option struct {
	// name is the key used by Set, Get and Update.
	name string
	// flag is the long-option name on the command line.
	flag string
	// bare options take no argument.
	bare  bool
	check validator
}

func valued(name string, check validator) option {
	return option{name: name, flag: name, check: check}
}

func flag(name string) option {
	return option{name: name, flag: name, bare: true}
}

// value is an assigned option value.
type value struct {
	raw      any
	rendered string
}

// ParameterSet is an ordered collection of validated iperf options.
//
// Options are rendered in the order they were declared, regardless of the
// order they were assigned in. An option that was never assigned, or a flag
// that was assigned a falsy value, is unset and is not rendered.
type ParameterSet struct {
	options []option
	index   map[string]int
	values  map[string]value
}

func newParameterSet(groups ...[]option) *ParameterSet {
	m := &ParameterSet{
		index:  map[string]int{},
		values: map[string]value{},
	}
	for _, group := range groups {
		for _, opt := range group {
			m.index[opt.name] = len(m.options)
			m.options = append(m.options, opt)
		}
	}
	return m
}

// Options returns the option names in canonical order.
func (m *ParameterSet) Options() []string {
	names := make([]string, 0, len(m.options))
	for _, opt := range m.options {
		names = append(names, opt.name)
	}
	return names
}

// Has reports whether the option name is known to this set.
func (m *ParameterSet) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Set validates and assigns the option.
//
// Flags are turned on by truthy values and cleared by falsy ones. On error the
// previous value is preserved.
func (m *ParameterSet) Set(name string, v any) error {
	idx, ok := m.index[name]
	if !ok {
		return &ValidationError{Option: name, Value: v, Reason: "unknown option"}
	}
	opt := m.options[idx]

	if opt.bare {
		if truthy(v) {
			m.values[name] = value{raw: true}
		} else {
			delete(m.values, name)
		}
		return nil
	}

	rendered, err := opt.check(v)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Option = name
		}
		return err
	}
	m.values[name] = value{raw: v, rendered: rendered}
	return nil
}

// Unset clears the option.
func (m *ParameterSet) Unset(name string) {
	delete(m.values, name)
}

// Get returns the assigned value of the option, as it was given.
func (m *ParameterSet) Get(name string) (any, bool) {
	v, ok := m.values[name]
	if !ok {
		return nil, false
	}
	return v.raw, true
}

// IsSet reports whether the option is assigned.
func (m *ParameterSet) IsSet(name string) bool {
	_, ok := m.values[name]
	return ok
}

// Update assigns every known option from params, in canonical order, and
// returns the keys this set does not know about, unchanged.
//
// Validation stops at the first rejected value.
func (m *ParameterSet) Update(params map[string]any) (map[string]any, error) {
	leftovers := map[string]any{}
	for name, v := range params {
		if !m.Has(name) {
			leftovers[name] = v
		}
	}

	for _, opt := range m.options {
		v, ok := params[opt.name]
		if !ok {
			continue
		}
		if err := m.Set(opt.name, v); err != nil {
			return leftovers, err
		}
	}

	return leftovers, nil
}

// render joins the assigned options in canonical order.
func (m *ParameterSet) render() string {
	b := strings.Builder{}
	for _, opt := range m.options {
		v, ok := m.values[opt.name]
		if !ok {
			continue
		}
		if opt.bare {
			fmt.Fprintf(&b, " --%s ", opt.flag)
		} else {
			fmt.Fprintf(&b, " --%s %s", opt.flag, v.rendered)
		}
	}
	return b.String()
}

// float returns the option as a number.
func (m *ParameterSet) float(name string) (float64, bool) {
	v, ok := m.Get(name)
	if !ok {
		return 0, false
	}
	f, err := float(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// apply is a helper for the constructors: unknown keys are an error there.
func (m *ParameterSet) apply(params map[string]any) error {
	leftovers, err := m.Update(params)
	if err != nil {
		return err
	}
	if len(leftovers) > 0 {
		names := make([]string, 0, len(leftovers))
		for name := range leftovers {
			names = append(names, name)
		}
		return &ValidationError{Option: strings.Join(names, ","), Value: leftovers, Reason: "unknown option"}
	}
	return nil
}
