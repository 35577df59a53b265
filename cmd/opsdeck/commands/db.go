package commands

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/db"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the opsdeck database",
	Long: sym.DB + ` db — Manage the opsdeck database

Examples:
  opsdeck db migrate      # Apply pending migrations
  opsdeck db stats        # Row counts and execution status breakdown`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	path, err := am.GetDatabasePath()
	if err != nil {
		return err
	}
	database, err := db.Open(path, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to open database at %s", path)
	}
	defer database.Close()

	before, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	if err := db.Migrate(database, nil); err != nil {
		return err
	}
	all, err := db.Migrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range all {
		if !before[m.Version] {
			pterm.Success.Printfln("Applied %s", m.Version)
			applied++
		}
	}
	if applied == 0 {
		pterm.Info.Printfln("%s is up to date (%d migrations)", path, len(all))
	}
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	path, err := am.GetDatabasePath()
	if err != nil {
		return err
	}
	database, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n", path)
	if info, err := os.Stat(path); err == nil {
		fmt.Printf("Size:           %s\n", humanBytes(uint64(info.Size())))
	}
	fmt.Println()

	data := pterm.TableData{{"Table", "Rows"}}
	for _, table := range []string{"scripts", "aws_profiles", "users", "schedules", "execution_history", "settings"} {
		n, err := countRows(database, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			return err
		}
		data = append(data, []string{table, fmt.Sprint(n)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	rows, err := database.Query("SELECT status, COUNT(*) FROM execution_history GROUP BY status ORDER BY status")
	if err != nil {
		return errors.Wrap(err, "failed to count executions by status")
	}
	defer rows.Close()

	fmt.Println()
	fmt.Println("Executions by status:")
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return errors.Wrap(err, "failed to scan status count")
		}
		fmt.Printf("  %-10s %d\n", status, n)
	}
	return errors.Wrap(rows.Err(), "failed to read status counts")
}

func countRows(database *sql.DB, query string) (int, error) {
	var n int
	if err := database.QueryRow(query).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "failed to run %q", query)
	}
	return n, nil
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
