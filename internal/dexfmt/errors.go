package dexfmt

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is matched by every OutOfRangeError via errors.Is.
var ErrOutOfRange = errors.New("dexfmt: read out of range")

// OutOfRangeError reports a read of Size bytes at Offset that does not fit
// in a buffer of Len bytes.
type OutOfRangeError struct {
	Offset int
	Size   int
	Len    int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("dexfmt: read of %d bytes at offset 0x%x exceeds buffer length 0x%x", e.Size, e.Offset, e.Len)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// MalformedVarIntError reports an invalid LEB128 or sized integer at Offset.
type MalformedVarIntError struct {
	Offset int
	Msg    string
}

func (e *MalformedVarIntError) Error() string {
	return fmt.Sprintf("dexfmt: malformed varint at offset 0x%x: %s", e.Offset, e.Msg)
}

// FormatError is fatal to a whole container: bad magic, unsupported
// version, wrong endianness or a truncated header.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return "not a valid dex file: " + e.Msg }

// FormatErrorf builds a FormatError.
func FormatErrorf(format string, args ...any) *FormatError {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// IndexOutOfRangeError reports a section lookup beyond the declared item
// count. Offset is the section base the lookup was relative to.
type IndexOutOfRangeError struct {
	Section string
	Index   int
	Count   int
	Offset  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("dexfmt: %s index %d out of range [0, %d) (section offset 0x%x)", e.Section, e.Index, e.Count, e.Offset)
}

// StructuralError is a recoverable inconsistency scoped to one class or
// method: a try range past the end of code, a dangling handler, a duplicate
// member, or a switch payload with no referring switch.
type StructuralError struct {
	Offset int
	Msg    string
}

func (e *StructuralError) Error() string {
	if e.Offset < 0 {
		return e.Msg
	}
	return fmt.Sprintf("0x%x: %s", e.Offset, e.Msg)
}

// Structuralf builds a StructuralError. Pass a negative offset when none applies.
func Structuralf(offset int, format string, args ...any) *StructuralError {
	return &StructuralError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// AnalysisValidationError is produced by the optional register analysis.
// Address is in code units.
type AnalysisValidationError struct {
	Address int
	Msg     string
}

func (e *AnalysisValidationError) Error() string {
	return fmt.Sprintf("analysis: 0x%x: %s", e.Address, e.Msg)
}

// IsRecoverable reports whether err is scoped to a single member and
// rendering of sibling members may continue.
func IsRecoverable(err error) bool {
	var se *StructuralError
	var ae *AnalysisValidationError
	var oe *OutOfRangeError
	var ie *IndexOutOfRangeError
	var me *MalformedVarIntError
	return errors.As(err, &se) || errors.As(err, &ae) || errors.As(err, &oe) ||
		errors.As(err, &ie) || errors.As(err, &me)
}
