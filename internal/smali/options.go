package smali

import (
	"fmt"
	"strings"
)

// RegisterInfo selects which register-type comments accompany instructions.
type RegisterInfo uint16

const (
	RegInfoAll       RegisterInfo = 1 << iota // every register, before and after
	RegInfoAllPre                             // every register before
	RegInfoAllPost                            // every register after
	RegInfoArgs                               // operand registers before
	RegInfoDest                               // registers changed by the instruction
	RegInfoMerge                              // registers merged from differing predecessors
	RegInfoFullMerge                          // merge detail per predecessor
	RegInfoDiff                               // registers whose type changed since the previous instruction
)

var regInfoNames = []struct {
	name string
	flag RegisterInfo
}{
	{"ALL", RegInfoAll},
	{"ALLPRE", RegInfoAllPre},
	{"ALLPOST", RegInfoAllPost},
	{"ARGS", RegInfoArgs},
	{"DEST", RegInfoDest},
	{"MERGE", RegInfoMerge},
	{"FULLMERGE", RegInfoFullMerge},
	{"DIFF", RegInfoDiff},
}

// ParseRegisterInfo parses a comma separated list such as "ARGS,DEST".
// An empty string yields no register info.
func ParseRegisterInfo(s string) (RegisterInfo, error) {
	var out RegisterInfo
	for part := range strings.SplitSeq(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for _, n := range regInfoNames {
			if n.name == part {
				out |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("smali: unknown register info %q", part)
		}
	}
	return out, nil
}

func (ri RegisterInfo) String() string {
	var parts []string
	for _, n := range regInfoNames {
		if ri&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// ResourceNamer names Android resource ids found in literals.
type ResourceNamer interface {
	ResourceName(id uint32) (string, bool)
}

// Options controls class rendering.
type Options struct {
	DebugInfo          bool // .line, .local, .param names and friends
	RegisterInfo       RegisterInfo
	SequentialLabels   bool
	CodeOffsets        bool // #@addr before each instruction
	AccessorComments   bool // describe calls to synthetic access$ methods
	ParameterRegisters bool // name argument registers p0, p1, ...
	LocalsDirective    bool // .locals instead of .registers

	Resources ResourceNamer
	// Warn receives one message per duplicate member. May be nil.
	Warn func(string)
}

// DefaultOptions returns the options used by the CLI unless overridden.
func DefaultOptions() Options {
	return Options{
		DebugInfo:          true,
		AccessorComments:   true,
		ParameterRegisters: true,
		LocalsDirective:    true,
	}
}

func (o *Options) warn(format string, args ...any) {
	if o.Warn != nil {
		o.Warn(fmt.Sprintf(format, args...))
	}
}
