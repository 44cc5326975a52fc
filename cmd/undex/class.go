package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"undex/internal/dexfile"
	"undex/internal/smali"
)

func init() {
	rootCmd.AddCommand(classCmd)
	addRenderFlags(classCmd, "class")
}

// classCmd represents the class command
var classCmd = &cobra.Command{
	Use:   "class <DEX> <CLASS>",
	Short: "Render one class to stdout",
	Example: heredoc.Doc(`
		❯ undex class classes.dex 'Lcom/example/Main;' --color`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		opts, err := renderOptions("class")
		if err != nil {
			return err
		}
		images, err := openDexes(args[0])
		if err != nil {
			return err
		}
		var img dexImage
		var c *dexfile.ClassDef
		for _, img = range images {
			var ok bool
			c, ok, err = img.f.ClassByType(args[1])
			if err != nil {
				return errors.Wrapf(err, "failed to look up %s in %s", args[1], img.name)
			}
			if ok {
				break
			}
			c = nil
		}
		if c == nil {
			return fmt.Errorf("class %s not found in %s", args[1], args[0])
		}
		log.WithField("image", img.name).Debug("Found class")

		res, err := smali.NewRenderer(img.f, opts).RenderClass(c)
		if err != nil {
			return err
		}
		for _, d := range res.Diags {
			log.Debug(d.String())
		}
		if res.HadValidationErrors {
			log.WithField("class", args[1]).Warn("class has validation errors")
		}

		if viper.GetBool("color") && !viper.GetBool("no-color") {
			return quick.Highlight(os.Stdout, res.Text, "smali", "terminal256", "nord")
		}
		fmt.Print(res.Text)
		return nil
	},
}
