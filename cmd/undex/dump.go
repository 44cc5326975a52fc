package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"undex/internal/annotate"
)

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringP("output", "o", "", "Write the dump to a file instead of stdout")
	viper.BindPFlag("dump.output", dumpCmd.Flags().Lookup("output"))
}

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump <DEX>",
	Short: "Annotated byte map of a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		images, err := openDexes(args[0])
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if out := viper.GetString("dump.output"); out != "" {
			of, err := os.Create(out)
			if err != nil {
				return errors.Wrapf(err, "failed to create %s", out)
			}
			defer of.Close()
			w = of
		}
		bw := bufio.NewWriter(w)

		if err := ctrlc.Default.Run(context.Background(), func() error {
			for _, img := range images {
				if len(images) > 1 {
					fmt.Fprintf(bw, "# %s\n", img.name)
				}
				if err := annotate.Dump(img.f, bw); err != nil {
					return err
				}
			}
			return bw.Flush()
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				return nil
			}
			return errors.Wrap(err, "failed to dump")
		}
		return nil
	},
}
