package render

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"undex/internal/callgraph"
)

// ClassgraphDOT renders a class-level call graph where each class is one node
// and edges represent aggregated inter-class invokes. Callee classes outside
// the container are drawn with the external accent. maxNodes limits rendered
// classes (0 = all).
func ClassgraphDOT(methods []callgraph.MethodInfo, title string, t Theme, maxNodes int) string {
	methodCount := make(map[string]int)
	for _, m := range methods {
		methodCount[m.Class]++
	}

	type classEdge struct {
		from, to string
	}
	counts := make(map[classEdge]int)
	for _, m := range methods {
		for _, e := range m.Calls {
			dst := ClassOf(e.Callee)
			if dst == "" || dst == m.Class {
				continue
			}
			counts[classEdge{m.Class, dst}]++
		}
	}

	// Rank classes by involvement for the maxNodes limit.
	involvement := make(map[string]int)
	for ce, n := range counts {
		involvement[ce.from] += n
		involvement[ce.to] += n
	}
	ranked := make([]string, 0, len(involvement))
	for name := range involvement {
		ranked = append(ranked, name)
	}
	slices.SortFunc(ranked, func(a, b string) int {
		return cmp.Or(cmp.Compare(involvement[b], involvement[a]), cmp.Compare(a, b))
	})
	if maxNodes > 0 && len(ranked) > maxNodes {
		ranked = ranked[:maxNodes]
	}
	renderSet := make(map[string]bool, len(ranked))
	for _, name := range ranked {
		renderSet[name] = true
	}

	var b strings.Builder
	b.WriteString("digraph classgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.5;\n")
	b.WriteString("  ranksep=0.8;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=\"filled,rounded\", fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=10, fontcolor=%q, height=0.4, margin=\"0.15,0.08\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee, color=%q];\n", t.EdgeDirect)
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	maxMethods := 1
	for name := range renderSet {
		maxMethods = max(maxMethods, methodCount[name])
	}
	for _, name := range ranked {
		n := methodCount[name]
		if n == 0 {
			fmt.Fprintf(&b, "  %s [label=%q, style=\"rounded\", fontcolor=%q];\n",
				dotID(name), simpleClass(name), t.ExternalText)
			continue
		}
		// Scale node height by method count (log scale).
		height := 0.4 + 0.3*math.Log2(float64(n)+1)/math.Log2(float64(maxMethods)+1)
		label := fmt.Sprintf("<<font point-size=\"10\">%s</font><br/><font point-size=\"7\" color=\"%s\">%d methods</font>>",
			dotEscape(simpleClass(name)), t.ExternalText, n)
		fmt.Fprintf(&b, "  %s [label=%s, height=%.2f];\n", dotID(name), label, height)
	}
	b.WriteByte('\n')

	edges := make([]classEdge, 0, len(counts))
	maxEdge := 1
	for ce, n := range counts {
		if renderSet[ce.from] && renderSet[ce.to] {
			edges = append(edges, ce)
			maxEdge = max(maxEdge, n)
		}
	}
	slices.SortFunc(edges, func(a, b classEdge) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to))
	})
	for _, ce := range edges {
		n := counts[ce]
		pw := 0.5 + 2.0*math.Log2(float64(n)+1)/math.Log2(float64(maxEdge)+1)
		attrs := fmt.Sprintf("penwidth=%.1f", pw)
		if n > 1 {
			attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%d</font>>", t.ExternalText, n)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(ce.from), dotID(ce.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
