package dexfile

import "strings"

// AccessFlags are the access_flags of a class, field or method.
type AccessFlags uint32

const (
	AccPublic               AccessFlags = 0x1
	AccPrivate              AccessFlags = 0x2
	AccProtected            AccessFlags = 0x4
	AccStatic               AccessFlags = 0x8
	AccFinal                AccessFlags = 0x10
	AccSynchronized         AccessFlags = 0x20
	AccVolatile             AccessFlags = 0x40
	AccBridge               AccessFlags = 0x40
	AccTransient            AccessFlags = 0x80
	AccVarargs              AccessFlags = 0x80
	AccNative               AccessFlags = 0x100
	AccInterface            AccessFlags = 0x200
	AccAbstract             AccessFlags = 0x400
	AccStrict               AccessFlags = 0x800
	AccSynthetic            AccessFlags = 0x1000
	AccAnnotation           AccessFlags = 0x2000
	AccEnum                 AccessFlags = 0x4000
	AccConstructor          AccessFlags = 0x10000
	AccDeclaredSynchronized AccessFlags = 0x20000
)

// FlagTarget selects which keyword set applies to a flag value, since the
// same bit means different things on fields and methods.
type FlagTarget uint8

const (
	TargetClass FlagTarget = 1 << iota
	TargetField
	TargetMethod
)

type flagName struct {
	flag    AccessFlags
	name    string
	targets FlagTarget
}

// Canonical keyword order. Rendering walks this table, never declaration order.
var flagNames = []flagName{
	{AccPublic, "public", TargetClass | TargetField | TargetMethod},
	{AccPrivate, "private", TargetClass | TargetField | TargetMethod},
	{AccProtected, "protected", TargetClass | TargetField | TargetMethod},
	{AccStatic, "static", TargetClass | TargetField | TargetMethod},
	{AccFinal, "final", TargetClass | TargetField | TargetMethod},
	{AccSynchronized, "synchronized", TargetMethod},
	{AccVolatile, "volatile", TargetField},
	{AccBridge, "bridge", TargetMethod},
	{AccTransient, "transient", TargetField},
	{AccVarargs, "varargs", TargetMethod},
	{AccNative, "native", TargetMethod},
	{AccInterface, "interface", TargetClass},
	{AccAbstract, "abstract", TargetClass | TargetMethod},
	{AccStrict, "strictfp", TargetMethod},
	{AccSynthetic, "synthetic", TargetClass | TargetField | TargetMethod},
	{AccAnnotation, "annotation", TargetClass},
	{AccEnum, "enum", TargetClass | TargetField},
	{AccConstructor, "constructor", TargetMethod},
	{AccDeclaredSynchronized, "declared-synchronized", TargetMethod},
}

// Keywords returns the keywords set in f for target, in canonical order.
func (f AccessFlags) Keywords(target FlagTarget) []string {
	var out []string
	for _, n := range flagNames {
		if n.targets&target != 0 && f&n.flag != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// Join renders f as space-separated keywords for target.
func (f AccessFlags) Join(target FlagTarget) string {
	return strings.Join(f.Keywords(target), " ")
}

func (f AccessFlags) Has(flag AccessFlags) bool { return f&flag == flag }
