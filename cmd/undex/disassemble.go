package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"undex/internal/dexfile"
	"undex/internal/dexfmt"
	"undex/internal/output"
	"undex/internal/smali"
)

func init() {
	rootCmd.AddCommand(disassembleCmd)
	disassembleCmd.Flags().StringP("output", "o", "out", "Directory to write .smali files to")
	disassembleCmd.Flags().IntP("jobs", "j", runtime.NumCPU(), "Number of classes rendered in parallel")
	disassembleCmd.Flags().StringSlice("classes", nil, "Only render these class descriptors")
	disassembleCmd.Flags().Bool("strict", false, "Fail when any class has validation errors")
	disassembleCmd.Flags().BoolP("quiet", "q", false, "Do not show a progress bar")
	disassembleCmd.MarkFlagDirname("output")
	viper.BindPFlag("disassemble.output", disassembleCmd.Flags().Lookup("output"))
	viper.BindPFlag("disassemble.jobs", disassembleCmd.Flags().Lookup("jobs"))
	viper.BindPFlag("disassemble.classes", disassembleCmd.Flags().Lookup("classes"))
	viper.BindPFlag("disassemble.strict", disassembleCmd.Flags().Lookup("strict"))
	viper.BindPFlag("disassemble.quiet", disassembleCmd.Flags().Lookup("quiet"))
	addRenderFlags(disassembleCmd, "disassemble")
}

// disassembleCmd represents the disassemble command
var disassembleCmd = &cobra.Command{
	Use:     "disassemble <DEX>",
	Aliases: []string{"d"},
	Short:   "Render every class of a container to .smali files",
	Example: heredoc.Doc(`
		# Disassemble into ./out using all cores
		❯ undex disassemble classes.dex -o out

		# Two classes, with register types before each instruction
		❯ undex d classes.dex --classes 'Lcom/example/Main;,Lcom/example/Util;' --register-info ARGS,DEST`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		opts, err := renderOptions("disassemble")
		if err != nil {
			return err
		}
		mode := dexfmt.ModeBestEffort
		if viper.GetBool("disassemble.strict") {
			mode = dexfmt.ModeStrict
		}
		outDir := viper.GetString("disassemble.output")
		names := viper.GetStringSlice("disassemble.classes")

		images, err := openDexes(args[0])
		if err != nil {
			return err
		}

		var units []*unit
		for _, img := range images {
			classes, failures, err := selectClasses(img.f, names)
			if err != nil {
				if len(names) > 0 && len(images) > 1 && errors.Is(err, errClassNotFound) {
					continue
				}
				return err
			}
			units = append(units, &unit{
				r:       smali.NewRenderer(img.f, opts),
				classes: classes,
				summary: output.Summary{
					Input:    filepath.Base(img.name),
					Version:  img.f.Version(),
					Odex:     img.f.IsOdex(),
					Mode:     mode.String(),
					Classes:  len(classes) + len(failures),
					Failures: failures,
				},
			})
		}
		if len(units) == 0 {
			return errors.Errorf("none of %v found in %s", names, args[0])
		}

		start := time.Now()
		d := &disassembler{
			outDir: outDir,
			jobs:   viper.GetInt("disassemble.jobs"),
			quiet:  viper.GetBool("disassemble.quiet"),
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := ctrlc.Default.Run(ctx, func() error {
			return d.run(ctx, units)
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				cancel()
				return nil
			}
			return err
		}

		elapsed := time.Since(start).Milliseconds()
		summaries := make([]output.Summary, len(units))
		var total, written, failed int
		for i, u := range units {
			u.summary.ElapsedMS = elapsed
			summaries[i] = u.summary
			total += u.summary.Classes
			written += u.summary.Written
			failed += len(u.summary.Failures)
		}
		if err := output.WriteSummaryJSON(outDir, summaries); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"images":  len(units),
			"written": written,
			"failed":  failed,
			"output":  outDir,
		}).Info("🎉 Done!")
		if failed > 0 {
			msg := fmt.Sprintf("%d of %d classes had errors", failed, total)
			if mode == dexfmt.ModeStrict {
				return errors.New(msg)
			}
			log.Warn(colorWarn(msg))
		}
		return nil
	},
}

var errClassNotFound = errors.New("class not found")

// selectClasses returns the classes to render. With no names every class
// of f is selected; classes whose definition cannot be read become
// failures instead.
func selectClasses(f *dexfile.File, names []string) ([]*dexfile.ClassDef, []output.ClassFailure, error) {
	var classes []*dexfile.ClassDef
	var failures []output.ClassFailure
	if len(names) > 0 {
		for _, name := range names {
			c, ok, err := f.ClassByType(name)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "failed to look up %s", name)
			}
			if !ok {
				return nil, nil, errors.Wrap(errClassNotFound, name)
			}
			classes = append(classes, c)
		}
		return classes, nil, nil
	}
	i := 0
	for c, err := range f.Classes() {
		if err != nil {
			log.WithError(err).Warnf("class_def %d", i)
			failures = append(failures, output.ClassFailure{
				Class: fmt.Sprintf("class_def@%d", i),
				Error: err.Error(),
			})
		} else {
			classes = append(classes, c)
		}
		i++
	}
	return classes, failures, nil
}

// unit is the work for one dex image.
type unit struct {
	r       *smali.Renderer
	classes []*dexfile.ClassDef
	bar     *mpb.Bar

	mu      sync.Mutex
	summary output.Summary
}

type disassembler struct {
	outDir string
	jobs   int
	quiet  bool
}

// run renders the classes of every unit with at most d.jobs classes in
// flight, one progress bar per unit.
func (d *disassembler) run(ctx context.Context, units []*unit) error {
	var p *mpb.Progress
	if !d.quiet {
		p = mpb.New(mpb.WithWidth(80))
		for _, u := range units {
			name := u.summary.Input
			u.bar = p.New(int64(len(u.classes)),
				mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
				mpb.PrependDecorators(
					decor.Name(name, decor.WC{W: len(name), C: decor.DindentRight | decor.DextraSpace}),
					decor.OnComplete(
						decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ ",
					),
				),
				mpb.AppendDecorators(
					decor.CountersNoUnit("%d/%d"),
					decor.Name(" ] "),
				),
			)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.jobs, 1))
	for _, u := range units {
		for _, c := range u.classes {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				err := d.class(u, c)
				if u.bar != nil {
					u.bar.Increment()
				}
				return err
			})
		}
	}
	err := g.Wait()
	if p != nil {
		if err != nil {
			for _, u := range units {
				u.bar.Abort(false)
			}
		}
		p.Wait()
	}
	return err
}

// class renders and writes one class. Rendering problems are recorded in
// the unit summary; only write errors stop the run.
func (d *disassembler) class(u *unit, c *dexfile.ClassDef) error {
	res, err := u.r.RenderClass(c)
	if err != nil {
		log.WithError(err).Warnf("class_def %d", c.Index)
		u.fail(output.ClassFailure{Class: fmt.Sprintf("class_def@%d", c.Index), Error: err.Error()})
		return nil
	}
	typ, _ := c.Type()
	if res.HadValidationErrors {
		log.WithField("class", typ).Warn("class has validation errors")
		u.fail(output.ClassFailure{Class: typ, Diags: diagStrings(res.Diags)})
	} else {
		for _, diag := range res.Diags {
			log.WithField("class", typ).Debug(diag.String())
		}
	}
	if err := output.WriteSmali(d.outDir, typ, res.Text); err != nil {
		return errors.Wrapf(err, "failed to write %s", typ)
	}
	u.mu.Lock()
	u.summary.Written++
	u.mu.Unlock()
	return nil
}

func (u *unit) fail(cf output.ClassFailure) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if cf.Error == "" {
		u.summary.Invalid++
	}
	u.summary.Failures = append(u.summary.Failures, cf)
}

func diagStrings(diags []dexfmt.Diag) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.String()
	}
	return out
}
