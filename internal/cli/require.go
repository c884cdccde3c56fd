package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/ipm/pkg/lockfile"
	"github.com/matzehuels/ipm/pkg/project"
)

// requireCommand creates the "require" command.
func (c *CLI) requireCommand() *cobra.Command {
	var opts project.RequireOptions
	cmd := &cobra.Command{
		Use:   "require <name>[==version]",
		Short: "Add a rule package requirement",
		Long: `Add a rule package to [requirements] and relock the project.

Without a version the latest version of the package's index is pinned.
The descriptor is only written when the project still resolves.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			lock, err := runner.Require(cmd.Context(), c.dir, args[0], opts)
			if err != nil {
				return err
			}
			printSuccess("Required %s", args[0])
			printLock(lock)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Path, "path", "", "use a local directory")
	cmd.Flags().StringVar(&opts.Yggdrasil, "yggdrasil", "", "use an index alias from [yggdrasils]")
	cmd.Flags().StringVar(&opts.Index, "registry", "", "use an index URL")
	return cmd
}

// unrequireCommand creates the "unrequire" command.
func (c *CLI) unrequireCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unrequire <name>",
		Short: "Remove a rule package requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			lock, err := runner.Unrequire(cmd.Context(), c.dir, args[0])
			if err != nil {
				return err
			}
			printSuccess("Removed requirement %s", args[0])
			printLock(lock)
			return nil
		},
	}
}

// updateCommand creates the "update" command.
func (c *CLI) updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Move pinned requirements to their latest versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			bumps, err := runner.Update(cmd.Context(), c.dir)
			if err != nil {
				return err
			}
			if len(bumps) == 0 {
				printInfo("All requirements are up to date")
				return nil
			}
			printSuccess("Updated %d requirements", len(bumps))
			for _, b := range bumps {
				printPackage(b.Name, b.To, "was "+b.From)
			}
			return nil
		},
	}
}

// addCommand creates the "add" command.
func (c *CLI) addCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <dependency>",
		Short: "Add a host-language dependency, e.g. requests>=2.31",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			if err := runner.Add(c.dir, args[0]); err != nil {
				return err
			}
			printSuccess("Added dependency %s", args[0])
			return nil
		},
	}
}

// removeCommand creates the "remove" command.
func (c *CLI) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <dependency>",
		Short: "Remove a host-language dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			if err := runner.Remove(c.dir, args[0]); err != nil {
				return err
			}
			printSuccess("Removed dependency %s", args[0])
			return nil
		},
	}
}

// printLock lists the packages of a lock.
func printLock(lock *lockfile.Lock) {
	if len(lock.Packages) == 0 {
		printDetail("no packages locked")
		return
	}
	for _, p := range lock.Packages {
		detail := p.Yggdrasil
		if p.Path != "" {
			detail = p.Path
		}
		printPackage(p.Name, p.Version, detail)
	}
}
