// Package render produces themed Graphviz DOT from decoded methods.
package render

import (
	"fmt"
	"strings"
)

// dotEscape escapes a string for use in DOT HTML labels.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// dotID creates a safe DOT identifier from a method or class descriptor.
func dotID(name string) string {
	var b strings.Builder
	b.WriteString("n_")
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		} else {
			fmt.Fprintf(&b, "_%04x", c)
		}
	}
	return b.String()
}

// ClassOf returns the defining class of a method descriptor.
// "LA;->m()V" → "LA;". Returns "" if name is not a member reference.
func ClassOf(name string) string {
	if i := strings.Index(name, "->"); i > 0 {
		return name[:i]
	}
	return ""
}

// stripMethodName removes the class prefix from a method descriptor.
// "LA;->m()V" → "m()V".
func stripMethodName(name, class string) string {
	return strings.TrimPrefix(name, class+"->")
}

// simpleClass shortens a class descriptor for labels.
// "Lcom/example/Foo;" → "com.example.Foo".
func simpleClass(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return strings.ReplaceAll(desc[1:len(desc)-1], "/", ".")
	}
	return desc
}

// truncLabel shortens a label to maxLen, appending "..." if truncated.
func truncLabel(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
