// Valve Journal CLI Tool
// Provides command-line access to the valve server journal
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agsys/valve-server/internal/protocol"
	"github.com/agsys/valve-server/internal/storage"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "valve-journal",
		Short: "Valve Journal CLI",
		Long:  "Command-line tool for inspecting the valve server journal.",
	}

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "List border router sessions",
		RunE:  showSessions,
	}

	eventsCmd = &cobra.Command{
		Use:   "events [sensor-id]",
		Short: "Show valve events",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showEvents,
	}

	energyCmd = &cobra.Command{
		Use:   "energy [node-id]",
		Short: "Show node energy reports",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showEnergy,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show journal statistics",
		RunE:  showStats,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}

	limit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/agsys/valve-journal.db", "Journal file path")

	sessionsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	energyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(energyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// idArg parses an optional id argument; nil selects everything
func idArg(args []string) (*int64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q", args[0])
	}
	return &id, nil
}

func showSessions(cmd *cobra.Command, args []string) error {
	db, err := storage.OpenReadOnly(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.GetSessions(limit)
	if err != nil {
		return err
	}
	return printSessions(cmd.OutOrStdout(), sessions)
}

func printSessions(out io.Writer, sessions []*storage.Session) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tPEER\tSTARTED\tDURATION\tLINES\tEND")
	fmt.Fprintln(w, "--\t----\t----\t-------\t--------\t-----\t---")

	for _, s := range sessions {
		duration := "active"
		if !s.EndedAt.IsZero() {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(s.ID), s.Role, orDash(s.RemoteAddr), s.StartedAt.Local().Format("01-02 15:04:05"),
			duration, s.Lines, orDash(s.EndReason))
	}
	return w.Flush()
}

func showEvents(cmd *cobra.Command, args []string) error {
	sensorID, err := idArg(args)
	if err != nil {
		return err
	}

	db, err := storage.OpenReadOnly(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.GetValveEvents(sensorID, limit)
	if err != nil {
		return err
	}
	return printEvents(cmd.OutOrStdout(), events)
}

func printEvents(out io.Writer, events []*storage.ValveEvent) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENSOR\tACTION\tREASON\tSLOPE\tOUTCOME\tTIME\tSESSION\tERROR")
	fmt.Fprintln(w, "------\t------\t------\t-----\t-------\t----\t-------\t-----")

	for _, e := range events {
		action := strings.ToUpper(protocol.Action(e.Action).String())
		if e.Duration > 0 {
			action = fmt.Sprintf("%s %ds", action, e.Duration)
		}
		slope := "-"
		if e.Reason == storage.ReasonTrend {
			slope = fmt.Sprintf("%.2f", e.Slope)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.SensorID, action, e.Reason, slope, e.Outcome,
			e.Timestamp.Local().Format("01-02 15:04:05"), orDash(shortID(e.SessionID)), orDash(e.Error))
	}
	return w.Flush()
}

func showEnergy(cmd *cobra.Command, args []string) error {
	nodeID, err := idArg(args)
	if err != nil {
		return err
	}

	db, err := storage.OpenReadOnly(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	reports, err := db.GetEnergyReports(nodeID, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tLEVEL\tTIME")
	fmt.Fprintln(w, "----\t-----\t----")
	for _, r := range reports {
		fmt.Fprintf(w, "%d\t%d\t%s\n", r.NodeID, r.Level, r.Timestamp.Local().Format("01-02 15:04:05"))
	}
	return w.Flush()
}

func showStats(cmd *cobra.Command, args []string) error {
	db, err := storage.OpenReadOnly(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.GetStats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Journal Statistics")
	fmt.Fprintln(out, "==================")
	fmt.Fprintf(out, "Sessions: %d\n", stats.Sessions)
	fmt.Fprintf(out, "Valve events: %d (open: %d, close: %d, failed: %d)\n",
		stats.ValveEvents, stats.Opens, stats.Closes, stats.FailedCommands)
	fmt.Fprintf(out, "Sensors with events: %d\n", stats.Sensors)
	fmt.Fprintf(out, "Energy reports: %d\n", stats.EnergyReports)
	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := storage.OpenReadOnly(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cols, rows, err := db.Query(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
