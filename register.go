package rmarshal

import "github.com/stewi1014/rmarshal/types"

// Register registers the type of prototype as class, to be dumped as an object and loaded into a new value of the type.
// It is a shortcut for types.DefaultRegistry.Register().
func Register(class types.Symbol, prototype any) error {
	return types.DefaultRegistry.Register(class, prototype)
}

// RegisterStruct registers the type of prototype as a Ruby Struct class.
// It is a shortcut for types.DefaultRegistry.RegisterStruct().
func RegisterStruct(class types.Symbol, prototype any) error {
	return types.DefaultRegistry.RegisterStruct(class, prototype)
}
