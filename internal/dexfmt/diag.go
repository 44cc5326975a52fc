package dexfmt

import "fmt"

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagTruncated DiagKind = "truncated"
	DiagInvalid   DiagKind = "invalid"
	DiagDuplicate DiagKind = "duplicate"
	DiagStructure DiagKind = "structure"
	DiagAnalysis  DiagKind = "analysis"
)

// Diag records a non-fatal issue encountered while decoding or rendering.
type Diag struct {
	Offset int      `json:"offset"`
	Kind   DiagKind `json:"kind"`
	Msg    string   `json:"msg"`
}

func (d Diag) String() string {
	if d.Offset < 0 {
		return fmt.Sprintf("[%s] %s", d.Kind, d.Msg)
	}
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Diags accumulates diagnostics. The zero value is ready to use.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset int, kind DiagKind, msg string) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset int, kind DiagKind, format string, args ...any) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// AddErr records err, classifying it by type.
func (d *Diags) AddErr(err error) {
	switch e := err.(type) {
	case *StructuralError:
		d.Add(e.Offset, DiagStructure, e.Msg)
	case *AnalysisValidationError:
		d.Add(e.Address, DiagAnalysis, e.Msg)
	case *OutOfRangeError:
		d.Add(e.Offset, DiagTruncated, err.Error())
	default:
		d.Add(-1, DiagInvalid, err.Error())
	}
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Mode controls how callers treat recoverable errors.
type Mode int

const (
	ModeStrict     Mode = iota // a class with validation errors fails the run
	ModeBestEffort             // count and report, keep going
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "best-effort"
}
