package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"undex/internal/smali"
)

func init() {
	rootCmd.AddCommand(retagCmd)
	retagCmd.Flags().BoolP("dry-run", "n", false, "Report changes without writing files")
	viper.BindPFlag("retag.dry-run", retagCmd.Flags().Lookup("dry-run"))
}

// retagCmd represents the retag command
var retagCmd = &cobra.Command{
	Use:   "retag <DIR>",
	Short: "Re-encode resource id constants in .smali files",
	Long: heredoc.Doc(`
		Rewrites const literals annotated with a resource name, such as

		    const v0, 0x7f0a0001    # string/app_name

		to the id the "resources" map of the config file assigns to that name.`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		table, err := resourceTable()
		if err != nil {
			return err
		}
		if len(table) == 0 {
			return errors.New("no resources configured (set \"resources\" in the config file)")
		}
		dryRun := viper.GetBool("retag.dry-run")

		files, lines, err := retagTree(args[0], table, dryRun)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"files": files, "lines": lines}).Info("🎉 Done!")
		return nil
	},
}

// retagTree retags every .smali file under dir and returns the number of
// files and lines changed.
func retagTree(dir string, r smali.ResourceIDResolver, dryRun bool) (int, int, error) {
	var files, lines int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".smali") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		text, n := smali.Retag(string(data), r)
		if n == 0 {
			return nil
		}
		log.WithField("lines", n).Debug(path)
		files++
		lines += n
		if dryRun {
			return nil
		}
		return os.WriteFile(path, []byte(text), 0644)
	})
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to retag %s", dir)
	}
	return files, lines, nil
}
