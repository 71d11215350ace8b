package ir

// Module is a translation unit: the kernels plus the module-scope globals.
type Module struct {
	Name    string
	Methods []*Method
	Globals []*Local
}

func NewModule(name string) *Module {
	return &Module{Name: name}
}

// Kernels returns all methods marked as kernel entry points.
func (m *Module) Kernels() []*Method {
	var kernels []*Method
	for _, method := range m.Methods {
		if method.IsKernel {
			kernels = append(kernels, method)
		}
	}
	return kernels
}

// FindGlobal returns the module-scope local with the given name, or nil.
func (m *Module) FindGlobal(name string) *Local {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}
