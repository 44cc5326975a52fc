package render

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"undex/internal/callgraph"
)

// FindEntryPoints returns methods with code that no other method of the
// container invokes. Self-recursion does not count as an incoming call.
func FindEntryPoints(methods []callgraph.MethodInfo) []string {
	called := make(map[string]bool)
	for _, m := range methods {
		for _, e := range m.Calls {
			if e.Callee != m.Name {
				called[e.Callee] = true
			}
		}
	}
	var entries []string
	for _, m := range methods {
		if len(m.Insts) > 0 && !called[m.Name] {
			entries = append(entries, m.Name)
		}
	}
	slices.Sort(entries)
	return entries
}

// ReachableSet performs BFS from entry points along invoke edges and
// returns the set of reachable method names, external callees included.
func ReachableSet(entryPoints []string, methods []callgraph.MethodInfo) map[string]bool {
	adj := make(map[string][]string, len(methods))
	for _, m := range methods {
		for _, e := range m.Calls {
			if e.Callee != "" {
				adj[m.Name] = append(adj[m.Name], e.Callee)
			}
		}
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}
	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// ReachabilityDOT renders the call graph filtered to the reachable set.
// Entry points are highlighted.
func ReachabilityDOT(methods []callgraph.MethodInfo, reachable map[string]bool, entryPoints []string, title string, t Theme) string {
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}

	type edgeKey struct{ from, to string }
	edgeCount := make(map[edgeKey]int)
	for _, m := range methods {
		if !reachable[m.Name] {
			continue
		}
		for _, e := range m.Calls {
			if e.Callee != "" && reachable[e.Callee] {
				edgeCount[edgeKey{m.Name, e.Callee}]++
			}
		}
	}

	refNodes := make(map[string]bool)
	for k := range edgeCount {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	for _, ep := range entryPoints {
		refNodes[ep] = true
	}

	byClass := make(map[string][]string)
	for name := range refNodes {
		c := ClassOf(name)
		byClass[c] = append(byClass[c], name)
	}
	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	var b strings.Builder
	b.WriteString("digraph reachable {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  compound=true;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee, color=%q];\n", t.EdgeDirect)
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	writeNode := func(indent, name, label string) {
		if entrySet[name] {
			fmt.Fprintf(&b, "%s%s [label=%q, penwidth=1.5, color=%q];\n", indent, dotID(name), label, t.EntryBorder)
		} else {
			fmt.Fprintf(&b, "%s%s [label=%q];\n", indent, dotID(name), label)
		}
	}

	var loose []string
	for _, class := range classes {
		names := byClass[class]
		slices.Sort(names)
		if class == "" || len(names) < 2 {
			loose = append(loose, names...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(class))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(simpleClass(class)))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode("    ", name, truncLabel(stripMethodName(name, class), 50))
		}
		b.WriteString("  }\n")
	}
	slices.Sort(loose)
	for _, name := range loose {
		writeNode("  ", name, truncLabel(name, 50))
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(edgeCount))
	for k := range edgeCount {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b edgeKey) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to))
	})
	for _, k := range keys {
		attrs := fmt.Sprintf("color=%q", t.EdgeDirect)
		if n := edgeCount[k]; n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
