package main

import (
	"fmt"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"undex/internal/dexfile"
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolP("members", "m", false, "Show field and method counts")
	viper.BindPFlag("list.members", listCmd.Flags().Lookup("members"))
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:     "list <DEX>",
	Aliases: []string{"ls"},
	Short:   "List the classes of a container",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		images, err := openDexes(args[0])
		if err != nil {
			return err
		}
		members := viper.GetBool("list.members")
		for _, img := range images {
			for c, err := range img.f.Classes() {
				if err != nil {
					log.WithError(err).WithField("image", img.name).Warn("unreadable class_def")
					continue
				}
				fmt.Println(classLine(c, members))
			}
		}
		return nil
	},
}

func classLine(c *dexfile.ClassDef, members bool) string {
	typ, err := c.Type()
	if err != nil {
		typ = fmt.Sprintf("class_def@%d", c.Index)
	}
	if !members {
		return colorClass(typ)
	}
	return fmt.Sprintf("%s\t%s=%d %s=%d %s=%d %s=%d", colorClass(typ),
		colorField("static"), c.Count(dexfile.StaticFields),
		colorField("instance"), c.Count(dexfile.InstanceFields),
		colorField("direct"), c.Count(dexfile.DirectMethods),
		colorField("virtual"), c.Count(dexfile.VirtualMethods))
}
