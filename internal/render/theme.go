package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Call edge colors by invoke kind.
	EdgeVirtual   string // invoke-virtual, invoke-super
	EdgeInterface string // invoke-interface
	EdgeDirect    string // invoke-direct, invoke-static
	EdgeDynamic   string // invoke-custom, invoke-polymorphic
	EdgeOdex      string // unresolved vtable and inline slots

	// CFG edge colors.
	EdgeTrue  string
	EdgeFalse string
	EdgeCatch string

	// Node accents.
	EntryBorder  string
	TermFill     string // blocks ending in return or throw
	ExternalText string // callees outside the container

	// Cluster styling.
	ClusterBorder string // subgraph cluster border
	ClusterLabel  string // subgraph cluster label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeVirtual:   "#0B3D91", // NASA blue
	EdgeInterface: "#00695C", // teal
	EdgeDirect:    "#424242", // dark gray
	EdgeDynamic:   "#E65100", // deep orange
	EdgeOdex:      "#9E9E9E", // gray

	EdgeTrue:  "#0B3D91",
	EdgeFalse: "#FC3D21", // NASA red
	EdgeCatch: "#E65100",

	EntryBorder:  "#0B3D91",
	TermFill:     "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
