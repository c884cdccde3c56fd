package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/ipm/pkg/install"
)

// lockCommand creates the "lock" command.
func (c *CLI) lockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Resolve requirements and write infini.lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			lock, err := runner.Lock(cmd.Context(), c.dir)
			if err != nil {
				return err
			}
			printSuccess("Locked %d packages", len(lock.Packages))
			printLock(lock)
			return nil
		},
	}
}

// checkCommand creates the "check" command.
func (c *CLI) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Sync every index the project uses, then lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			spinner := newSpinner(cmd.Context(), "Syncing indexes...")
			spinner.Start()
			lock, err := runner.Check(cmd.Context(), c.dir)
			if err != nil {
				spinner.StopWithError("Check failed")
				return err
			}
			spinner.StopWithSuccess(fmt.Sprintf("Project resolves to %d packages", len(lock.Packages)))
			printLock(lock)
			return nil
		},
	}
}

// syncCommand creates the "sync" command.
func (c *CLI) syncCommand() *cobra.Command {
	var opts install.Options
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Install the packages recorded in infini.lock",
		Long:  `Install the packages recorded in infini.lock into packages/. The project is locked first if it has no lock yet.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			prog := newProgress(loggerFromContext(cmd.Context()))
			report, err := runner.Sync(cmd.Context(), c.dir, opts)
			printReport(report)
			if err != nil {
				return err
			}
			prog.done("sync finished")
			return nil
		},
	}
	addInstallFlags(cmd, &opts)
	return cmd
}

// installCommand creates the "install" command.
func (c *CLI) installCommand() *cobra.Command {
	var opts install.Options
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Resolve, lock and install the project's requirements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner()
			if err != nil {
				return err
			}
			prog := newProgress(loggerFromContext(cmd.Context()))
			lock, err := runner.Lock(cmd.Context(), c.dir)
			if err != nil {
				return err
			}
			report, err := runner.Install(cmd.Context(), c.dir, lock.Set(), opts)
			printReport(report)
			if err != nil {
				return err
			}
			prog.done("install finished")
			return nil
		},
	}
	addInstallFlags(cmd, &opts)
	return cmd
}

func addInstallFlags(cmd *cobra.Command, opts *install.Options) {
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "reinstall packages that are already installed")
	cmd.Flags().BoolVarP(&opts.Upgrade, "upgrade", "U", false, "replace installed packages of a different version")
}

// printReport prints one line per package and a summary.
func printReport(report *install.Report) {
	if report == nil {
		return
	}
	for _, o := range report.Packages {
		switch o.Stage {
		case install.Registered:
			detail := "installed"
			if o.Cached {
				detail = styleCached.Render("installed from store")
			}
			printPackage(o.Name, o.Version, detail)
		case install.Skipped:
			printPackage(o.Name, o.Version, o.Reason)
		case install.Failed:
			printError("%s %s failed while %s", o.Name, o.Version, o.FailedAt)
		}
	}
	installed, skipped := report.Count(install.Registered), report.Count(install.Skipped)
	switch {
	case report.Count(install.Failed) > 0:
		printWarning("%d installed, %d skipped before the failure", installed, skipped)
	case installed == 0:
		printInfo("Nothing to install, %d packages up to date", skipped)
	default:
		printSuccess("Installed %d packages, %d skipped", installed, skipped)
	}
}
