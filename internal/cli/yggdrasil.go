package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// yggdrasilCommand creates the index management command.
func (c *CLI) yggdrasilCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "yggdrasil",
		Aliases: []string{"ygg"},
		Short:   "Manage package indexes",
	}
	cmd.AddCommand(c.yggdrasilAddCommand())
	cmd.AddCommand(c.yggdrasilRemoveCommand())
	cmd.AddCommand(c.yggdrasilSyncCommand())
	return cmd
}

func (c *CLI) yggdrasilAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <alias> <url>",
		Short: "Sync an index and declare it in [yggdrasils]",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			if err := runner.AddYggdrasil(cmd.Context(), c.dir, args[0], args[1]); err != nil {
				return err
			}
			printSuccess("Added yggdrasil %s", StyleHighlight.Render(args[0]))
			printDetail("%s", args[1])
			printNextStep("Require a package from it", "ipm require <name> --yggdrasil "+args[0])
			return nil
		},
	}
}

func (c *CLI) yggdrasilRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <alias>",
		Short: "Remove an index alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			if _, err := runner.RemoveYggdrasil(cmd.Context(), c.dir, args[0]); err != nil {
				return err
			}
			printSuccess("Removed yggdrasil %s", args[0])
			return nil
		},
	}
}

func (c *CLI) yggdrasilSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [url]",
		Short: "Fetch an index (default: the default index)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			url := runner.Options.DefaultIndex
			if len(args) == 1 {
				url = args[0]
			}
			snap, err := runner.SyncIndex(cmd.Context(), url)
			if err != nil {
				return err
			}
			printSuccess("Synced %s", snap.URL)
			printKeyValue("uuid", snap.UUID)
			printKeyValue("packages", fmt.Sprint(len(snap.Packages)))
			return nil
		},
	}
}

// ledgerCommand creates the ledger inspection command.
func (c *CLI) ledgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the machine-wide package ledger",
	}
	cmd.AddCommand(c.ledgerListCommand())
	cmd.AddCommand(c.ledgerPathCommand())
	return cmd
}

func (c *CLI) ledgerListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List synced indexes, stored artifacts and installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			led := runner.Ledger
			printKeyValue("ledger", led.Path())
			printKeyValue("uuid", led.UUID())

			printInfo("Indexes")
			for _, ix := range led.Indexes() {
				printPackage(ix.URL, ix.UUID, "synced "+ix.SyncedAt.Local().Format(time.DateTime))
			}
			printInfo("Artifacts")
			for _, a := range led.Artifacts() {
				printPackage(a.Name, a.Version, a.Path)
			}
			printInfo("Installed")
			for _, in := range led.InstalledPackages() {
				printPackage(in.Name, in.Version, "")
			}
			return nil
		},
	}
}

func (c *CLI) ledgerPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the ledger file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(stdout, c.Options.WithDefaults().LedgerPath())
			return nil
		},
	}
}
