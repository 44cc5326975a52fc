package dexfile

import "strings"

// Proto is a resolved method prototype.
type Proto struct {
	Shorty string
	Return string
	Params []string
}

// Descriptor returns "(params)return".
func (p Proto) Descriptor() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, t := range p.Params {
		b.WriteString(t)
	}
	b.WriteByte(')')
	b.WriteString(p.Return)
	return b.String()
}

// ParamRegisters counts the registers taken by the parameters, not
// including an implicit receiver.
func (p Proto) ParamRegisters() int {
	n := 0
	for _, t := range p.Params {
		n += TypeRegisters(t)
	}
	return n
}

// TypeRegisters returns 2 for wide types, 1 otherwise.
func TypeRegisters(desc string) int {
	if desc == "J" || desc == "D" {
		return 2
	}
	return 1
}

// FieldRef is a resolved field_id.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

func (r FieldRef) String() string { return r.Class + "->" + r.Name + ":" + r.Type }

// ShortDescriptor returns "name:type".
func (r FieldRef) ShortDescriptor() string { return r.Name + ":" + r.Type }

// MethodRef is a resolved method_id.
type MethodRef struct {
	Class string
	Name  string
	Proto Proto
}

func (r MethodRef) String() string { return r.Class + "->" + r.ShortDescriptor() }

// ShortDescriptor returns "name(params)return".
func (r MethodRef) ShortDescriptor() string { return r.Name + r.Proto.Descriptor() }

// MethodHandleKind is the method_handle_type of a method handle item.
type MethodHandleKind uint16

const (
	HandleStaticPut MethodHandleKind = iota
	HandleStaticGet
	HandleInstancePut
	HandleInstanceGet
	HandleInvokeStatic
	HandleInvokeInstance
	HandleInvokeConstructor
	HandleInvokeDirect
	HandleInvokeInterface
)

var handleKindNames = [...]string{
	"static-put", "static-get", "instance-put", "instance-get",
	"invoke-static", "invoke-instance", "invoke-constructor", "invoke-direct", "invoke-interface",
}

func (k MethodHandleKind) String() string {
	if int(k) < len(handleKindNames) {
		return handleKindNames[k]
	}
	return "invalid-method-handle-type"
}

// IsFieldAccess reports whether the handle refers to a field.
func (k MethodHandleKind) IsFieldAccess() bool { return k <= HandleInstanceGet }

// MethodHandle is a resolved method_handle_item. Exactly one of Field and
// Method is set.
type MethodHandle struct {
	Kind   MethodHandleKind
	Field  *FieldRef
	Method *MethodRef
}

func (h MethodHandle) String() string {
	if h.Field != nil {
		return h.Kind.String() + "@" + h.Field.String()
	}
	if h.Method != nil {
		return h.Kind.String() + "@" + h.Method.String()
	}
	return h.Kind.String() + "@"
}

// CallSite is a resolved call_site_item.
type CallSite struct {
	Index      int
	Handle     MethodHandle
	MethodName string
	MethodType Proto
	Extra      []Value
}
