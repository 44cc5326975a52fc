package render

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"undex/internal/callgraph"
)

// edgeColor returns the DOT color for an invoke kind.
func edgeColor(kind string, t Theme) string {
	switch kind {
	case "virtual", "super":
		return t.EdgeVirtual
	case "interface":
		return t.EdgeInterface
	case "direct", "static":
		return t.EdgeDirect
	case "custom", "polymorphic":
		return t.EdgeDynamic
	default:
		return t.EdgeOdex
	}
}

// edgeStyle returns dot style attributes for an invoke kind.
func edgeStyle(kind string) string {
	switch kind {
	case "interface":
		return "dotted"
	case "custom", "polymorphic":
		return "dashed"
	default:
		return "solid"
	}
}

// isSlot reports whether callee is an unresolved odex slot.
func isSlot(callee string) bool {
	return strings.HasPrefix(callee, "vtable@") || strings.HasPrefix(callee, "inline@")
}

// CallgraphDOT renders a method call graph as DOT. Methods defined in the
// container are clustered by class; callees outside it are plaintext nodes.
// maxNodes limits the number of method nodes rendered (0 = all).
func CallgraphDOT(methods []callgraph.MethodInfo, title string, t Theme, maxNodes int) string {
	type edgeKey struct {
		from, to, kind string
	}
	counts := make(map[edgeKey]int)
	for _, m := range methods {
		for _, e := range m.Calls {
			if e.Callee == "" {
				continue
			}
			counts[edgeKey{m.Name, e.Callee, e.Kind}]++
		}
	}
	keys := make([]edgeKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b edgeKey) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to), cmp.Compare(a.kind, b.kind))
	})

	// Only methods that take part in an edge are drawn.
	ref := make(map[string]bool)
	for _, k := range keys {
		ref[k.from] = true
		ref[k.to] = true
	}
	var drawn []callgraph.MethodInfo
	for _, m := range methods {
		if ref[m.Name] {
			drawn = append(drawn, m)
		}
	}
	if maxNodes > 0 && len(drawn) > maxNodes {
		drawn = drawn[:maxNodes]
	}
	inSet := make(map[string]bool, len(drawn))
	for _, m := range drawn {
		inSet[m.Name] = true
	}

	external := make(map[string]bool)
	for _, k := range keys {
		if inSet[k.from] && !inSet[k.to] {
			external[k.to] = true
		}
	}

	byClass := make(map[string][]string)
	var classes []string
	for _, m := range drawn {
		if _, ok := byClass[m.Class]; !ok {
			classes = append(classes, m.Class)
		}
		byClass[m.Class] = append(byClass[m.Class], m.Name)
	}

	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  compound=true;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	var loose []string
	for _, class := range classes {
		names := byClass[class]
		if len(names) < 2 {
			loose = append(loose, names...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(class))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(simpleClass(class)))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			label := truncLabel(stripMethodName(name, class), 50)
			fmt.Fprintf(&b, "    %s [label=%q];\n", dotID(name), label)
		}
		b.WriteString("  }\n")
	}
	for _, name := range loose {
		fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(name), truncLabel(name, 60))
	}
	b.WriteByte('\n')

	ext := make([]string, 0, len(external))
	for name := range external {
		ext = append(ext, name)
	}
	slices.Sort(ext)
	for _, name := range ext {
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	for _, k := range keys {
		if !inSet[k.from] || (!inSet[k.to] && !external[k.to]) {
			continue
		}
		color := edgeColor(k.kind, t)
		attrs := fmt.Sprintf("color=%q, style=%q", color, edgeStyle(k.kind))
		if n := counts[k]; n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
			if n > 2 {
				attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, n)
			}
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

// CallgraphStats summarizes the invoke sites of a container.
type CallgraphStats struct {
	TotalMethods int            `json:"total_methods"`
	WithCode     int            `json:"with_code"`
	TotalCalls   int            `json:"total_calls"`
	Internal     int            `json:"internal_calls"` // callee defined in the container
	OdexSlots    int            `json:"odex_slots"`
	Classes      int            `json:"classes"`
	KindCounts   map[string]int `json:"kind_counts"`
	TopCallers   []NameCount    `json:"top_callers"` // sorted desc
	TopCallees   []NameCount    `json:"top_callees"` // sorted desc
	TopClasses   []NameCount    `json:"top_classes"` // sorted desc by method count
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ComputeStats computes call graph statistics from collected methods.
func ComputeStats(methods []callgraph.MethodInfo) CallgraphStats {
	stats := CallgraphStats{
		TotalMethods: len(methods),
		KindCounts:   make(map[string]int),
	}
	known := make(map[string]bool, len(methods))
	classCount := make(map[string]int)
	for _, m := range methods {
		known[m.Name] = true
		classCount[m.Class]++
	}
	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, m := range methods {
		if len(m.Insts) > 0 {
			stats.WithCode++
		}
		for _, e := range m.Calls {
			stats.TotalCalls++
			stats.KindCounts[e.Kind]++
			callerCount[m.Name]++
			switch {
			case isSlot(e.Callee):
				stats.OdexSlots++
			case e.Callee != "":
				calleeCount[e.Callee]++
				if known[e.Callee] {
					stats.Internal++
				}
			}
		}
	}
	stats.Classes = len(classCount)
	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	stats.TopClasses = topNMap(classCount, 30)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending, ties by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	slices.SortFunc(entries, func(a, b NameCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Name, b.Name))
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
