package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/ipm/pkg/project"
)

// initCommand creates the "init" command.
func (c *CLI) initCommand() *cobra.Command {
	var (
		meta   project.Metadata
		author project.Author
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create infini.toml in the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if meta.Name == "" {
				abs, err := filepath.Abs(c.dir)
				if err != nil {
					return err
				}
				meta.Name = filepath.Base(abs)
			}
			if author.Name != "" {
				meta.Authors = []project.Author{author}
			}
			p, err := project.Init(c.dir, meta, force)
			if err != nil {
				return err
			}
			printSuccess("Initialized %s %s", StyleHighlight.Render(p.Name()), p.Version())
			printDetail("%s", p.Path())
			printNextStep("Add a rule package", "ipm require <name>")
			return nil
		},
	}
	cmd.Flags().StringVar(&meta.Name, "name", "", "package name (default: directory name)")
	cmd.Flags().StringVar(&meta.Version, "version", "", "initial version (default 0.1.0)")
	cmd.Flags().StringVar(&meta.Description, "description", "", "one-line description")
	cmd.Flags().StringVar(&meta.License, "license", "", "license identifier (default MIT)")
	cmd.Flags().StringVar(&author.Name, "author", "", "author name")
	cmd.Flags().StringVar(&author.Email, "email", "", "author email")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing infini.toml")
	return cmd
}

// tagCommand creates the "tag" command.
func (c *CLI) tagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <version>",
		Short: "Set the project version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Load(c.dir)
			if err != nil {
				return err
			}
			previous := p.Version()
			if err := p.SetVersion(args[0]); err != nil {
				return err
			}
			if err := p.Dump(); err != nil {
				return err
			}
			printSuccess("Tagged %s %s %s %s", StyleHighlight.Render(p.Name()), previous, iconArrow, p.Version())
			return nil
		},
	}
}

// buildCommand creates the "build" command.
func (c *CLI) buildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Pack the project into dist/<name>-<version>.ipk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			frozen, err := runner.Build(c.dir)
			if err != nil {
				return err
			}
			printSuccess("Built %s %s", StyleHighlight.Render(frozen.Name), frozen.Version)
			printKeyValue("archive", frozen.Path)
			printKeyValue("sha256", frozen.Hash)
			return nil
		},
	}
}

// extractCommand creates the "extract" command.
func (c *CLI) extractCommand() *cobra.Command {
	var hashPath string
	cmd := &cobra.Command{
		Use:   "extract <archive> [dest]",
		Short: "Verify and unpack an archive",
		Long:  `Verify an .ipk archive against its detached .hash file and unpack it into dest/<name> (default: the current directory).`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := "."
			if len(args) == 2 {
				dest = args[1]
			}
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			target, err := runner.Extract(args[0], hashPath, dest)
			if err != nil {
				return err
			}
			printSuccess("Extracted %s", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&hashPath, "hash", "", "digest file (default: <archive>.hash)")
	return cmd
}
