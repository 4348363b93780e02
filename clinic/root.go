package clinic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/clinicapp/clinic/datastore/migrations"
	"github.com/clinicapp/clinic/version"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(DBCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	MigrateCmd.AddCommand(MigrateVersionCmd)
	MigrateStatusCmd.Flags().BoolVarP(&upToDateCheck, "up-to-date", "u", false, "check if all known migrations are applied")
	MigrateStatusCmd.Flags().BoolVarP(&skipPostDeployment, "skip-post-deployment", "s", false, "ignore post deployment migrations")
	MigrateCmd.AddCommand(MigrateStatusCmd)
	MigrateUpCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "do not commit changes to the database")
	MigrateUpCmd.Flags().VarP(nullableInt{&maxNumMigrations}, "limit", "n", "limit the number of migrations (all by default)")
	MigrateUpCmd.Flags().BoolVarP(&skipPostDeployment, "skip-post-deployment", "s", false, "do not apply post deployment migrations")
	MigrateUpCmd.Flags().StringVarP(&debugAddr, "debug-server", "D", "", "serve metrics on <address:port> while migrating, overrides http.debug.addr")
	MigrateCmd.AddCommand(MigrateUpCmd)
	MigrateDownCmd.Flags().BoolVarP(&force, "force", "f", false, "no confirmation message")
	MigrateDownCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "do not commit changes to the database")
	MigrateDownCmd.Flags().VarP(nullableInt{&maxNumMigrations}, "limit", "n", "limit the number of migrations (all by default)")
	MigrateCmd.AddCommand(MigrateDownCmd)
	MigrateHistoryCmd.Flags().StringVarP(&format, "format", "f", formatText, "output format, options: text, json, csv, yaml")
	MigrateCmd.AddCommand(MigrateHistoryCmd)
	DBCmd.AddCommand(MigrateCmd)
}

// Command flag vars
var (
	debugAddr          string
	dryRun             bool
	force              bool
	format             string
	maxNumMigrations   *int
	showVersion        bool
	skipPostDeployment bool
	upToDateCheck      bool
)

// nullableInt implements spf13/pflag#Value as a custom nullable integer to capture spf13/cobra command flags.
// https://pkg.go.dev/github.com/spf13/pflag?tab=doc#Value
type nullableInt struct {
	ptr **int
}

func (f nullableInt) String() string {
	if *f.ptr == nil {
		return "0"
	}
	return strconv.Itoa(**f.ptr)
}

func (f nullableInt) Type() string {
	return "int"
}

func (f nullableInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f.ptr = &v
	return nil
}

// migrationLimit validates the --limit flag. Zero means no limit.
func migrationLimit() (int, error) {
	if maxNumMigrations == nil {
		return 0, nil
	}
	if *maxNumMigrations < 1 {
		return 0, errors.New("limit must be greater than or equal to 1")
	}
	return *maxNumMigrations, nil
}

// confirm asks the user for confirmation on out, reading the answer from in.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	var response string
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	if _, err := fmt.Fscanln(in, &response); err != nil && errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to scan user input: %w", err)
	}
	return regexp.MustCompile(`(?i)^y(es)?$`).MatchString(response), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RootCmd is the main command for the 'clinic' binary.
var RootCmd = &cobra.Command{
	Use:   "clinic",
	Short: "`clinic`",
	Long:  "`clinic` manages the clinic appointments database",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		cmd.Usage()
	},
}

// DBCmd is the root of the `database` command.
var DBCmd = &cobra.Command{
	Use:   "database",
	Short: "Manages the clinic database",
	Long:  "Manages the clinic database",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Usage()
	},
}

// MigrateCmd is the `migrate` sub-command of `database` that manages database migrations.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage migrations",
	Long:  "Manage migrations",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Usage()
	},
}

// MigrateUpCmd is the `up` sub-command of `database migrate` that applies pending migrations.
var MigrateUpCmd = &cobra.Command{
	Use:   "up <config>",
	Short: "Apply up migrations",
	Long:  "Apply up migrations",
	Run: func(cmd *cobra.Command, args []string) {
		limit, err := migrationLimit()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		config, log, db := setup(args, cmd.Usage)
		defer db.Close()

		addr := config.HTTP.Debug.Addr
		if debugAddr != "" {
			addr = debugAddr
		}
		if addr != "" {
			stop := startDebugServer(addr, log)
			defer stop()
		}

		m := migrations.NewMigrator(db, migratorOptions(config, log)...)
		plan, err := m.UpNPlan(limit)
		if err != nil {
			exitWithError("failed to plan database migrations", err)
		}
		if len(plan) > 0 {
			fmt.Println(strings.Join(plan, "\n"))
		}

		if !dryRun {
			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()
			n, err := m.UpN(ctx, limit)
			if err != nil {
				if errors.Is(err, migrations.ErrBackfillRequired) {
					fmt.Fprintln(os.Stderr, "existing rows must be backfilled, or the table emptied, before this migration can be applied")
				}
				exitWithError("failed to run database migrations", err)
			}
			fmt.Printf("OK: applied %d migrations in %.3fs\n", n, time.Since(start).Seconds())
		}
	},
}

// MigrateDownCmd is the `down` sub-command of `database migrate` that reverts applied migrations.
var MigrateDownCmd = &cobra.Command{
	Use:   "down <config>",
	Short: "Apply down migrations",
	Long:  "Apply down migrations",
	Run: func(cmd *cobra.Command, args []string) {
		limit, err := migrationLimit()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		config, log, db := setup(args, cmd.Usage)
		defer db.Close()

		m := migrations.NewMigrator(db, migratorOptions(config, log)...)
		plan, err := m.DownNPlan(limit)
		if err != nil {
			exitWithError("failed to plan database migrations", err)
		}
		if len(plan) > 0 {
			fmt.Println(strings.Join(plan, "\n"))
		}

		if !dryRun && len(plan) > 0 {
			if !force {
				ok, err := confirm(os.Stdin, os.Stdout, "Preparing to apply the above down migrations. Are you sure?")
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				if !ok {
					return
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()
			n, err := m.DownN(ctx, limit)
			if err != nil {
				exitWithError("failed to run database migrations", err)
			}
			fmt.Printf("OK: applied %d migrations in %.3fs\n", n, time.Since(start).Seconds())
		}
	},
}

// MigrateVersionCmd is the `version` sub-command of `database migrate` that shows the current migration version.
var MigrateVersionCmd = &cobra.Command{
	Use:   "version <config>",
	Short: "Show current migration version",
	Long:  "Show current migration version",
	Run: func(cmd *cobra.Command, args []string) {
		config, log, db := setup(args, cmd.Usage)
		defer db.Close()

		m := migrations.NewMigrator(db, migratorOptions(config, log)...)
		v, err := m.Version()
		if err != nil {
			exitWithError("failed to detect database version", err)
		}
		if v == "" {
			v = "Unknown"
		}

		fmt.Printf("%s\n", v)
	},
}

// MigrateStatusCmd is the `status` sub-command of `database migrate` that shows the migrations status.
var MigrateStatusCmd = &cobra.Command{
	Use:   "status <config>",
	Short: "Show migration status",
	Long:  "Show migration status",
	Run: func(cmd *cobra.Command, args []string) {
		config, log, db := setup(args, cmd.Usage)
		defer db.Close()

		m := migrations.NewMigrator(db, migratorOptions(config, log)...)
		statuses, err := m.Status()
		if err != nil {
			exitWithError("failed to detect database status", err)
		}

		if upToDateCheck {
			fmt.Println(upToDate(statuses, skipPostDeployment))
			return
		}

		writeStatus(os.Stdout, statuses, skipPostDeployment)
	},
}

// MigrateHistoryCmd is the `history` sub-command of `database migrate` that shows the revision history. It does not
// connect to the database.
var MigrateHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the migration revision history",
	Long:  "Show the migration revision history, root revision first",
	Run: func(cmd *cobra.Command, args []string) {
		h, err := migrations.NewHistory(migrations.All())
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid migration history: %v\n", err)
			os.Exit(1)
		}

		if err := writeHistory(os.Stdout, h, format); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func upToDate(statuses map[string]*migrations.MigrationStatus, skipPostDeployment bool) bool {
	for _, s := range statuses {
		if s.AppliedAt == nil && (!s.PostDeployment || !skipPostDeployment) {
			return false
		}
	}
	return true
}

func writeStatus(w io.Writer, statuses map[string]*migrations.MigrationStatus, skipPostDeployment bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Migration", "Revision", "Applied"})
	table.SetColWidth(80)

	// Display table rows sorted by migration ID
	var ids []string
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := statuses[id]
		if s.PostDeployment && skipPostDeployment {
			continue
		}
		name := id
		if s.Unknown {
			name += " (unknown)"
		}

		if s.PostDeployment {
			name += " (post deployment)"
		}

		var appliedAt string
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.String()
		}

		table.Append([]string{name, s.Revision, appliedAt})
	}

	table.Render()
}
