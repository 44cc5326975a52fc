package smali

import (
	"regexp"
	"strings"
)

// ResourceTable maps resource ids to names such as "string/app_name".
type ResourceTable map[uint32]string

// ResourceName implements ResourceNamer.
func (t ResourceTable) ResourceName(id uint32) (string, bool) {
	n, ok := t[id]
	return n, ok
}

// ResourceID looks a name up by value. It implements ResourceIDResolver.
// When several ids share the name the lowest one is returned.
func (t ResourceTable) ResourceID(name string) (uint32, bool) {
	var best uint32
	found := false
	for id, n := range t {
		if n == name && (!found || id < best) {
			best, found = id, true
		}
	}
	return best, found
}

// ResourceIDResolver maps a resource name back to its current id.
type ResourceIDResolver interface {
	ResourceID(name string) (uint32, bool)
}

// A const line annotated with a resource name by the renderer.
var resourceConst = regexp.MustCompile(`^(\s*)(const|const/high16)(\s+[vp]\d+,\s+)(-?0x[0-9a-f]+)(    # )(\S+)$`)

// Retag rewrites the literal of every resource-annotated const line in
// smali text to the id r currently assigns to the annotated name. Lines
// whose name r does not know are left alone. It returns the new text and
// the number of lines changed.
func Retag(text string, r ResourceIDResolver) (string, int) {
	lines := strings.Split(text, "\n")
	changed := 0
	for i, line := range lines {
		m := resourceConst.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, ok := r.ResourceID(m[6])
		if !ok {
			continue
		}
		op := m[2]
		if op == "const/high16" && id&0xffff != 0 {
			op = "const"
		}
		lit := intLiteral(int64(int32(id)))
		if op == m[2] && lit == m[4] {
			continue
		}
		lines[i] = m[1] + op + m[3] + lit + m[5] + m[6]
		changed++
	}
	return strings.Join(lines, "\n"), changed
}
