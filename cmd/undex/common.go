package main

import (
	"strconv"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"undex/internal/dexfile"
	"undex/internal/input"
	"undex/internal/smali"
)

var (
	colorField   = color.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorAddr    = color.New(color.Faint).SprintfFunc()
	colorClass   = color.New(color.FgHiMagenta).SprintFunc()
	colorWarn    = color.New(color.FgYellow, color.Bold).SprintFunc()
	colorSection = color.New(color.Bold).SprintFunc()
)

// setup applies the global output flags. Every command calls it first.
func setup() {
	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	color.NoColor = viper.GetBool("no-color") || !viper.GetBool("color")
}

// dexImage is one opened container of an input file.
type dexImage struct {
	name string
	f    *dexfile.File
}

// openDexes opens every dex image of the file at path. For archives with
// several images an unreadable one is skipped with a warning.
func openDexes(path string) ([]dexImage, error) {
	images, err := input.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var out []dexImage
	for _, img := range images {
		f, err := dexfile.Open(img.Data, true)
		if err != nil {
			if len(images) == 1 {
				return nil, errors.Wrapf(err, "failed to open %s", img.Name)
			}
			log.WithError(err).Warnf("skipping %s", img.Name)
			continue
		}
		log.WithFields(log.Fields{
			"image":   img.Name,
			"sha256":  img.SHA256[:12],
			"version": f.Version(),
			"odex":    f.IsOdex(),
			"classes": f.Count(dexfile.SectionClassDef),
		}).Debug("Opened container")
		out = append(out, dexImage{name: img.Name, f: f})
	}
	if len(out) == 0 {
		return nil, errors.Errorf("no readable dex images in %s", path)
	}
	return out, nil
}

// addRenderFlags registers the smali rendering flags of cmd and binds them
// under prefix.
func addRenderFlags(cmd *cobra.Command, prefix string) {
	def := smali.DefaultOptions()
	cmd.Flags().Bool("debug-info", def.DebugInfo, "Emit .line, .local, .param names and source directives")
	cmd.Flags().String("register-info", "", "Register type comments: ALL,ALLPRE,ALLPOST,ARGS,DEST,MERGE,FULLMERGE,DIFF")
	cmd.Flags().Bool("sequential-labels", def.SequentialLabels, "Number labels per kind instead of by address")
	cmd.Flags().Bool("code-offsets", def.CodeOffsets, "Emit #@addr before each instruction")
	cmd.Flags().Bool("accessors", def.AccessorComments, "Describe calls to synthetic access$ methods")
	cmd.Flags().Bool("registers", !def.LocalsDirective, "Use .registers instead of .locals")
	cmd.Flags().Bool("no-parameter-registers", !def.ParameterRegisters, "Name every register vN")
	for _, name := range []string{
		"debug-info", "register-info", "sequential-labels", "code-offsets",
		"accessors", "registers", "no-parameter-registers",
	} {
		viper.BindPFlag(prefix+"."+name, cmd.Flags().Lookup(name))
	}
}

// renderOptions builds smali.Options from the settings bound by
// addRenderFlags. Resource names come from the "resources" config map.
func renderOptions(prefix string) (smali.Options, error) {
	opts := smali.Options{
		DebugInfo:          viper.GetBool(prefix + ".debug-info"),
		SequentialLabels:   viper.GetBool(prefix + ".sequential-labels"),
		CodeOffsets:        viper.GetBool(prefix + ".code-offsets"),
		AccessorComments:   viper.GetBool(prefix + ".accessors"),
		LocalsDirective:    !viper.GetBool(prefix + ".registers"),
		ParameterRegisters: !viper.GetBool(prefix + ".no-parameter-registers"),
		Warn:               func(msg string) { log.Warn(msg) },
	}
	ri, err := smali.ParseRegisterInfo(viper.GetString(prefix + ".register-info"))
	if err != nil {
		return opts, errors.Wrap(err, "invalid --register-info")
	}
	opts.RegisterInfo = ri
	res, err := resourceTable()
	if err != nil {
		return opts, err
	}
	if len(res) > 0 {
		opts.Resources = res
	}
	return opts, nil
}

// resourceTable reads the "resources" config map of id to name:
//
//	resources:
//	  "0x7f0a0001": string/app_name
func resourceTable() (smali.ResourceTable, error) {
	m := viper.GetStringMapString("resources")
	if len(m) == 0 {
		return nil, nil
	}
	t := make(smali.ResourceTable, len(m))
	for k, name := range m {
		id, err := strconv.ParseUint(k, 0, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid resource id %q", k)
		}
		t[uint32(id)] = name
	}
	return t, nil
}
