package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"undex/internal/dexfile"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <DEX>",
	Short: "Show header, sections and map list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		images, err := openDexes(args[0])
		if err != nil {
			return err
		}
		for i, img := range images {
			if i > 0 {
				fmt.Println()
			}
			if len(images) > 1 {
				fmt.Printf("%s %s\n", colorSection("[Image]"), img.name)
			}
			writeInfo(os.Stdout, img.f)
		}
		return nil
	},
}

var infoSections = []dexfile.Section{
	dexfile.SectionString,
	dexfile.SectionType,
	dexfile.SectionProto,
	dexfile.SectionField,
	dexfile.SectionMethod,
	dexfile.SectionClassDef,
	dexfile.SectionCallSite,
	dexfile.SectionMethodHandle,
}

func writeInfo(w io.Writer, f *dexfile.File) {
	h := f.Header
	fmt.Fprintln(w, colorSection("[Header]"))
	fmt.Fprintf(w, "  %s: %q\n", colorField("magic"), h.Magic)
	fmt.Fprintf(w, "  %s: %03d\n", colorField("version"), h.Version)
	fmt.Fprintf(w, "  %s: %s\n", colorField("checksum"), colorAddr("%#08x", h.Checksum))
	fmt.Fprintf(w, "  %s: %x\n", colorField("signature"), h.Signature)
	fmt.Fprintf(w, "  %s: %s (%d bytes)\n", colorField("file_size"), humanize.Bytes(uint64(h.FileSize)), h.FileSize)
	fmt.Fprintf(w, "  %s: %s at %s\n", colorField("data"), humanize.Bytes(uint64(h.DataSize)), colorAddr("%#x", h.DataOff))
	if o := f.Odex; o != nil {
		fmt.Fprintln(w, colorSection("[Odex]"))
		fmt.Fprintf(w, "  %s: %03d\n", colorField("version"), o.Version)
		fmt.Fprintf(w, "  %s: %s at %s\n", colorField("dex"), humanize.Bytes(uint64(o.DexLength)), colorAddr("%#x", o.DexOffset))
		fmt.Fprintf(w, "  %s: %s at %s\n", colorField("deps"), humanize.Bytes(uint64(o.DepsLength)), colorAddr("%#x", o.DepsOffset))
		fmt.Fprintf(w, "  %s: %s at %s\n", colorField("opt"), humanize.Bytes(uint64(o.OptLength)), colorAddr("%#x", o.OptOffset))
	}

	fmt.Fprintln(w, colorSection("[Sections]"))
	for _, s := range infoSections {
		n := f.Count(s)
		if n == 0 {
			continue
		}
		off, _ := f.IndexToOffset(s, 0)
		fmt.Fprintf(w, "  %-14s %10s  at %s\n", colorField(s.String()), humanize.Comma(int64(n)), colorAddr("%#x", off))
	}

	if len(f.Maps) > 0 {
		fmt.Fprintln(w, colorSection("[Map]"))
		for _, m := range f.Maps {
			fmt.Fprintf(w, "  %-28s %10s  at %s\n", colorField(m.Type.String()), humanize.Comma(int64(m.Size)), colorAddr("%#x", m.Offset))
		}
	}
}
