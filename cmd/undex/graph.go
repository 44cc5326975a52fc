package main

import (
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zboralski/lattice"
	lrender "github.com/zboralski/lattice/render"

	"undex/internal/bytecode"
	"undex/internal/callgraph"
	"undex/internal/dexfile"
	"undex/internal/output"
	"undex/internal/render"
)

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("output", "o", "graph", "Directory to write .dot files to")
	graphCmd.Flags().Bool("themed", false, "Render with the themed renderer instead of plain lattice DOT")
	graphCmd.Flags().Int("min-blocks", 2, "Skip method CFGs with fewer basic blocks")
	graphCmd.Flags().Int("max-nodes", 0, "Limit themed graphs to the busiest nodes (0 = all)")
	graphCmd.MarkFlagDirname("output")
	viper.BindPFlag("graph.output", graphCmd.Flags().Lookup("output"))
	viper.BindPFlag("graph.themed", graphCmd.Flags().Lookup("themed"))
	viper.BindPFlag("graph.min-blocks", graphCmd.Flags().Lookup("min-blocks"))
	viper.BindPFlag("graph.max-nodes", graphCmd.Flags().Lookup("max-nodes"))
}

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <DEX>",
	Short: "Write call graph and per-method CFGs as Graphviz DOT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		outDir := viper.GetString("graph.output")
		themed := viper.GetBool("graph.themed")
		minBlocks := viper.GetInt("graph.min-blocks")
		maxNodes := viper.GetInt("graph.max-nodes")

		images, err := openDexes(args[0])
		if err != nil {
			return err
		}
		var methods []callgraph.MethodInfo
		owner := make(map[string]*dexfile.File)
		for _, img := range images {
			ms := collectMethods(img.f)
			for _, m := range ms {
				owner[m.Name] = img.f
			}
			methods = append(methods, ms...)
		}

		cg := callgraph.BuildCallGraph(methods)
		if err := output.WriteDOT(outDir, "callgraph", lrender.DOT(cg, "callgraph")); err != nil {
			return err
		}
		log.WithFields(log.Fields{"nodes": len(cg.Nodes), "edges": len(cg.Edges)}).Info("Wrote callgraph.dot")

		title := filepath.Base(args[0])
		if themed {
			if err := output.WriteDOT(outDir, "callgraph_themed", render.CallgraphDOT(methods, title, render.NASA, maxNodes)); err != nil {
				return err
			}
		}
		if err := output.WriteDOT(outDir, "classgraph", render.ClassgraphDOT(methods, title, render.NASA, maxNodes)); err != nil {
			return err
		}
		entries := render.FindEntryPoints(methods)
		reach := render.ReachableSet(entries, methods)
		if err := output.WriteDOT(outDir, "reachable", render.ReachabilityDOT(methods, reach, entries, title, render.NASA)); err != nil {
			return err
		}
		if err := output.WriteStatsJSON(outDir, render.ComputeStats(methods)); err != nil {
			return err
		}

		cfgs := 0
		for _, m := range methods {
			if len(m.Insts) == 0 {
				continue
			}
			f := owner[m.Name]
			var dot string
			if themed {
				bcfg := bytecode.BuildCFG(m.Name, m.Insts, m.Tries)
				if len(bcfg.Blocks) < minBlocks {
					continue
				}
				dot = render.CFGDOT(bcfg, func(in *bytecode.Instruction) string {
					return callgraph.Describe(f, in)
				}, render.NASA)
			} else {
				lcfg, n := callgraph.BuildFuncCFG(m)
				if n < minBlocks {
					continue
				}
				dot = lrender.DOTCFG(&lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}, m.Name)
			}
			if err := output.WriteDOT(outDir, cfgPath(m), dot); err != nil {
				return errors.Wrapf(err, "failed to write CFG of %s", m.Name)
			}
			cfgs++
		}

		log.WithFields(log.Fields{
			"methods": len(methods),
			"cfgs":    cfgs,
			"entries": len(entries),
			"output":  outDir,
		}).Info("🎉 Done!")
		return nil
	},
}

// collectMethods decodes the methods of every readable class of f.
func collectMethods(f *dexfile.File) []callgraph.MethodInfo {
	set := bytecode.NewOpcodeSet(f.Version(), f.IsOdex())
	var methods []callgraph.MethodInfo
	for c, err := range f.Classes() {
		if err != nil {
			log.WithError(err).Warn("unreadable class_def")
			continue
		}
		ms, err := callgraph.Collect(f, set, c)
		if err != nil {
			typ, _ := c.Type()
			log.WithError(err).WithField("class", typ).Warn("skipping unreadable methods")
		}
		methods = append(methods, ms...)
	}
	return methods
}

// cfgPath is the DOT file of one method: cfg/<class>/<method>.
func cfgPath(m callgraph.MethodInfo) string {
	class := strings.TrimSuffix(strings.TrimPrefix(m.Class, "L"), ";")
	method := strings.TrimPrefix(m.Name, m.Class+"->")
	if class == "" {
		class = "_"
	}
	return filepath.Join("cfg", output.MethodFileName(class), output.MethodFileName(method))
}
