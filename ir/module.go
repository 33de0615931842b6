package ir

import (
	"fmt"
	"strconv"
)

// Function is a named function: parameter types, appended local types, result
// types, and an expression body. Locals are addressed by dense indices with
// parameters first. A nil body marks an imported function.
type Function struct {
	Name    string
	Params  []Type
	Results []Type
	Vars    []Type
	Body    Expr
}

// NumLocals returns the number of locals, parameters included.
func (f *Function) NumLocals() int { return len(f.Params) + len(f.Vars) }

// LocalType returns the type of local i.
func (f *Function) LocalType(i int) Type {
	if i < len(f.Params) {
		return f.Params[i]
	}
	return f.Vars[i-len(f.Params)]
}

// AddVar appends a local of the given type and returns its fresh index.
func (f *Function) AddVar(t Type) int {
	f.Vars = append(f.Vars, t)
	return len(f.Params) + len(f.Vars) - 1
}

// ResultType returns the function's single result type, or none.
func (f *Function) ResultType() Type {
	switch len(f.Results) {
	case 0:
		return None
	case 1:
		return f.Results[0]
	}
	panic(fmt.Sprintf("ir: function %s has %d results", f.Name, len(f.Results)))
}

// Module is an ordered set of functions addressable by name.
type Module struct {
	Functions []*Function
	byName    map[string]*Function
}

// NewModule returns an empty module.
func NewModule() *Module {
	return &Module{byName: map[string]*Function{}}
}

// GetFunction returns the function with the given name, or nil.
func (m *Module) GetFunction(name string) *Function {
	if m.byName == nil {
		m.UpdateFunctionsMap()
	}
	return m.byName[name]
}

// AddFunction appends a function. The name must be unique in the module.
func (m *Module) AddFunction(f *Function) *Function {
	if m.byName == nil {
		m.UpdateFunctionsMap()
	}
	if _, exists := m.byName[f.Name]; exists {
		panic(fmt.Sprintf("ir: duplicate function name %q", f.Name))
	}
	m.Functions = append(m.Functions, f)
	m.byName[f.Name] = f
	return f
}

// UpdateFunctionsMap rebuilds the name index after direct manipulation of the
// Functions slice.
func (m *Module) UpdateFunctionsMap() {
	m.byName = make(map[string]*Function, len(m.Functions))
	for _, f := range m.Functions {
		m.byName[f.Name] = f
	}
}

// UniqueFunctionName returns prefix plus the smallest numeric suffix that is
// not yet taken by any function in the module.
func (m *Module) UniqueFunctionName(prefix string) string {
	if m.byName == nil {
		m.UpdateFunctionsMap()
	}
	for i := 0; ; i++ {
		name := prefix + strconv.Itoa(i)
		if _, taken := m.byName[name]; !taken {
			return name
		}
	}
}
