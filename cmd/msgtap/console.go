package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/V4T54L/msgtap/internal/domain"
)

const maxSearchRows = 20

var headerStyle = lipgloss.NewStyle().Bold(true)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether message logging is on and what it has recorded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		status, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := c.Stats(cmd.Context(), domain.LogFilter{})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("=== Message Logging Status ==="))
		fmt.Fprintf(out, "Enabled: %t\n", status.Enabled)
		fmt.Fprintf(out, "Detailed logging: %t\n", status.Detailed)
		fmt.Fprintf(out, "Max entries: %d\n", status.MaxEntries)
		fmt.Fprintf(out, "Tracked messages: %d\n", status.TrackedMessages)
		fmt.Fprintf(out, "Interposed calls: %d\n", status.InterposedSlots)
		fmt.Fprintf(out, "Total messages logged: %d\n", stats.TotalMessages)
		fmt.Fprintf(out, "Messages sent: %d\n", stats.MessagesSent)
		fmt.Fprintf(out, "Messages received: %d\n", stats.MessagesReceived)
		fmt.Fprintf(out, "Active conversations: %d\n", stats.ConversationsActive)
		if !status.Enabled {
			fmt.Fprintln(out, "\nTo enable message logging, run: msgtap enable")
		}
		return nil
	},
}

// settingCmd returns a command that stores value under key and prints done.
func settingCmd(use, short, key, value, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient(cmd).SetSetting(cmd.Context(), key, value); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

var detailedCmd = &cobra.Command{
	Use:       "detailed on|off",
	Short:     "Turn detailed per-entry diagnostics on or off",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		on := args[0] == "on"
		if err := apiClient(cmd).SetSetting(cmd.Context(), domain.SettingMessageLoggingDetailed, strconv.FormatBool(on)); err != nil {
			return err
		}
		if on {
			fmt.Fprintln(cmd.OutOrStdout(), "Detailed message logging enabled")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Detailed message logging disabled")
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List log entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := filterFlags(cmd)
		if err != nil {
			return err
		}
		entries, err := apiClient(cmd).Logs(cmd.Context(), f)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No message logs found")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), entryTable(entries, time.DateTime, 80, true))
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent message activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetFloat64("hours")
		entries, err := apiClient(cmd).Recent(cmd.Context(), hours)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		unit := "hours"
		if hours == 1 {
			unit = "hour"
		}
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("=== Recent Activity (Last %s %s) ===", strconv.FormatFloat(hours, 'f', -1, 64), unit)))
		if len(entries) == 0 {
			fmt.Fprintln(out, "No recent message activity found")
			return nil
		}
		fmt.Fprintln(out, entryTable(entries, time.TimeOnly, 50, true))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search logs by content, user or conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := filterFlags(cmd)
		if err != nil {
			return err
		}
		results, err := apiClient(cmd).Search(cmd.Context(), args[0], f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("=== Search Results for %q ===", args[0])))
		if len(results) == 0 {
			fmt.Fprintln(out, "No matching logs found")
			return nil
		}
		shown := results
		if len(shown) > maxSearchRows {
			shown = shown[:maxSearchRows]
		}
		fmt.Fprintln(out, entryTable(shown, time.DateTime, 100, false))
		if more := len(results) - len(shown); more > 0 {
			fmt.Fprintf(out, "... and %d more results\n", more)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download logs as a JSON file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := filterFlags(cmd)
		if err != nil {
			return err
		}
		// Exports keep store order unless asked otherwise.
		if newest, _ := cmd.Flags().GetBool("newest-first"); !newest {
			f.NewestFirst = false
		}
		compress, _ := cmd.Flags().GetString("compress")
		data, err := apiClient(cmd).Export(cmd.Context(), f, compress)
		if err != nil {
			return fmt.Errorf("failed to export logs: %w", err)
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if output == "" {
			output = fmt.Sprintf("message-logs-%s.json", time.Now().Format(time.DateOnly))
			if compress == "zstd" {
				output += ".zst"
			}
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("failed to export logs: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logs exported to %s\n", output)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			fmt.Fprint(cmd.OutOrStdout(), "Are you sure you want to clear all message logs? This cannot be undone. [y/N] ")
			answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
		}
		if err := apiClient(cmd).Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All message logs cleared")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate the (filtered) log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := filterFlags(cmd)
		if err != nil {
			return err
		}
		stats, err := apiClient(cmd).Stats(cmd.Context(), f)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), stats)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Total messages: %d\n", stats.TotalMessages)
		fmt.Fprintf(out, "Messages sent: %d\n", stats.MessagesSent)
		fmt.Fprintf(out, "Messages received: %d\n", stats.MessagesReceived)
		fmt.Fprintf(out, "Active conversations: %d\n", stats.ConversationsActive)
		if mac := stats.MostActiveConversation; mac != nil {
			fmt.Fprintf(out, "Most active conversation: %s (%d messages)\n", orDefault(mac.Title, mac.ID), mac.MessageCount)
		}
		if dr := stats.DateRange; dr != nil {
			fmt.Fprintf(out, "Date range: %s to %s\n",
				time.UnixMilli(dr.Start).Format(time.DateTime), time.UnixMilli(dr.End).Format(time.DateTime))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(
		statusCmd,
		settingCmd("enable", "Enable message logging", domain.SettingMessageLogging, "true", "Message logging enabled"),
		settingCmd("disable", "Disable message logging", domain.SettingMessageLogging, "false", "Message logging disabled"),
		detailedCmd,
		logsCmd,
		recentCmd,
		searchCmd,
		exportCmd,
		clearCmd,
		statsCmd,
	)

	for _, cmd := range []*cobra.Command{logsCmd, searchCmd, exportCmd, statsCmd} {
		cmd.Flags().String("conversation", "", "Only entries of this conversation id")
		cmd.Flags().String("user", "", "Only entries of this user id")
		cmd.Flags().String("type", "", "Only entries of this event type (e.g. SENT, MESSAGE_READ)")
		cmd.Flags().Duration("since", 0, "Only entries newer than this")
	}
	logsCmd.Flags().Int("limit", 50, "Maximum number of entries (0 for all)")
	logsCmd.Flags().Bool("json", false, "Print raw JSON")
	statsCmd.Flags().Bool("json", false, "Print raw JSON")
	recentCmd.Flags().Float64("hours", 1, "Size of the window in hours")
	exportCmd.Flags().StringP("output", "o", "", `Output file ("-" for stdout, default message-logs-<date>.json)`)
	exportCmd.Flags().Bool("newest-first", false, "Sort the export newest first")
	exportCmd.Flags().String("compress", "", `Compress the file ("zstd")`)
	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

// filterFlags builds a filter from the shared filter flags, newest first.
func filterFlags(cmd *cobra.Command) (domain.LogFilter, error) {
	f := domain.LogFilter{NewestFirst: true}
	f.ConversationID, _ = cmd.Flags().GetString("conversation")
	f.UserID, _ = cmd.Flags().GetString("user")
	if s, _ := cmd.Flags().GetString("type"); s != "" {
		t, err := domain.ParseEventType(s)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		f.StartTime = time.Now().Add(-since).UnixMilli()
	}
	if cmd.Flags().Lookup("limit") != nil {
		f.Limit, _ = cmd.Flags().GetInt("limit")
	}
	return f, nil
}

// entryTable renders entries with content cut to width runes.
func entryTable(entries []domain.LogEntry, timeLayout string, width int, withConversation bool) string {
	headers := []string{"Time", "Type", "User"}
	if withConversation {
		headers = append(headers, "Conversation")
	}
	headers = append(headers, "Content")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		}).
		Headers(headers...)
	for _, e := range entries {
		row := []string{
			time.UnixMilli(e.Timestamp).Format(timeLayout),
			string(e.Type),
			userLabel(e),
		}
		if withConversation {
			row = append(row, orDefault(e.ConversationTitle, e.ConversationID))
		}
		row = append(row, orDefault(truncate(e.Content, width), "-"))
		t.Row(row...)
	}
	return t.String()
}

// userLabel names the entry's user. Entries without one are the session
// user's own actions.
func userLabel(e domain.LogEntry) string {
	switch {
	case e.DisplayName != "":
		return e.DisplayName
	case e.Username != "":
		return e.Username
	case e.UserID != "":
		return e.UserID
	}
	return "You"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
