// sisu-analytics is the operational CLI for the sisu interaction log: usage
// stats, per-channel and per-day views, NDJSON backfill, Parquet export, and
// ad-hoc SQL over exports.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics"
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/archive"
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/config"
	"github.com/sisuxi/sisu-slack-bot/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

const usageText = `usage: sisu-analytics [flags] <command> [args]

commands:
  stats                 overall usage stats (default: trailing 7 days)
  channel <id>          stats for one channel (default: trailing 30 days)
  daily [YYYY-MM-DD]    stats for one UTC day (default: today)
  events                list events in the selected range
  ingest                read EventData NDJSON from stdin into the log
  export <start> <end> <out.parquet>
                        export a date range to a Parquet archive
  sql <query>           run SQL over exported archives (DuckDB)
  shell                 interactive session
`

type app struct {
	svc  *analytics.Service
	cfg  *config.Config
	ctx  context.Context
	json bool

	// shared query flags
	start    string
	end      string
	user     string
	channel  string
	command  string
	errsOnly bool
}

func main() {
	cfgPath := flag.String("config", "", "config file path")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	startDate := flag.String("start", "", "range start (YYYY-MM-DD or RFC 3339)")
	endDate := flag.String("end", "", "range end (YYYY-MM-DD or RFC 3339)")
	user := flag.String("user", "", "filter by user")
	channel := flag.String("channel", "", "filter by channel")
	command := flag.String("command", "", "filter by command")
	errsOnly := flag.Bool("errors", false, "only events with errors")
	jsonOut := flag.Bool("json", false, "JSON output")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "JSON log output")
	version := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText+"\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println("sisu-analytics", Version)
		return
	}

	logging.Init(parseLevel(*logLevel), *logJSON)

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	svc, err := analytics.New(cfg)
	if err != nil {
		fatal(err)
	}

	a := &app{
		svc:      svc,
		cfg:      cfg,
		ctx:      context.Background(),
		json:     *jsonOut,
		start:    *startDate,
		end:      *endDate,
		user:     *user,
		channel:  *channel,
		command:  *command,
		errsOnly: *errsOnly,
	}

	// Buffered events must not be lost on interrupt.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		svc.Cleanup()
		os.Exit(1)
	}()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		svc.Cleanup()
		os.Exit(2)
	}

	err = a.run(args[0], args[1:])
	if cerr := svc.Cleanup(); err == nil {
		err = cerr
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "sisu-analytics:", err)
	os.Exit(1)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func (a *app) query() types.Query {
	q := types.Query{
		StartDate: a.start,
		EndDate:   a.end,
		Channel:   a.channel,
		User:      a.user,
		Command:   a.command,
	}
	if a.errsOnly {
		t := true
		q.HasError = &t
	}
	return q
}

func (a *app) run(cmd string, args []string) error {
	switch cmd {
	case "stats":
		return a.runStats()
	case "channel":
		if len(args) != 1 {
			return fmt.Errorf("usage: channel <id>")
		}
		return a.runChannel(args[0])
	case "daily":
		date := ""
		if len(args) > 0 {
			date = args[0]
		}
		return a.runDaily(date)
	case "events":
		return a.runEvents()
	case "ingest":
		return a.runIngest()
	case "export":
		if len(args) != 3 {
			return fmt.Errorf("usage: export <start> <end> <out.parquet>")
		}
		return a.runExport(args[0], args[1], args[2])
	case "sql":
		if len(args) != 1 {
			return fmt.Errorf("usage: sql <query>")
		}
		return a.runSQL(args[0])
	case "shell":
		return a.runShell()
	case "help":
		fmt.Print(usageText)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (a *app) runStats() error {
	st, err := a.svc.GetStats(a.ctx, a.query())
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(st)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Range", st.StartDate + " .. " + st.EndDate})
	table.Append([]string{"Events", strconv.Itoa(st.TotalEvents)})
	table.Append([]string{"Unique users", strconv.Itoa(st.UniqueUsers)})
	table.Append([]string{"Unique channels", strconv.Itoa(st.UniqueChannels)})
	table.Append([]string{"Avg response (ms)", formatFloat(st.AverageResponseTime)})
	table.Append([]string{"Tokens used", strconv.FormatInt(st.TotalTokensUsed, 10)})
	table.Append([]string{"Error rate", formatFloat(st.ErrorRate)})
	if st.ResponseTimes != nil {
		table.Append([]string{"p50/p95/p99 (ms)", fmt.Sprintf("%s / %s / %s",
			formatFloat(st.ResponseTimes.P50),
			formatFloat(st.ResponseTimes.P95),
			formatFloat(st.ResponseTimes.P99))})
	}
	table.Render()

	if len(st.CommandUsage) > 0 {
		fmt.Println()
		renderCommandUsage(st.CommandUsage)
	}
	return nil
}

func (a *app) runChannel(id string) error {
	st, err := a.svc.GetChannelStats(a.ctx, id, a.query())
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Printf("no data for channel %s\n", id)
		return nil
	}
	if a.json {
		return printJSON(st)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Channel", st.Channel})
	table.Append([]string{"Range", st.StartDate + " .. " + st.EndDate})
	table.Append([]string{"Events", strconv.Itoa(st.TotalEvents)})
	table.Append([]string{"Unique users", strconv.Itoa(st.UniqueUsers)})
	table.Append([]string{"Avg response (ms)", formatFloat(st.AverageResponseTime)})
	table.Append([]string{"Tokens used", strconv.FormatInt(st.TotalTokensUsed, 10)})
	table.Append([]string{"Error rate", formatFloat(st.ErrorRate)})
	table.Append([]string{"Last activity", st.LastActivity})
	table.Render()

	renderTopCommands("Most used commands", st.MostUsedCommands)
	return nil
}

func (a *app) runDaily(date string) error {
	st, err := a.svc.GetDailyStats(a.ctx, date)
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(st)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Date", st.Date})
	table.Append([]string{"Events", strconv.Itoa(st.TotalEvents)})
	table.Append([]string{"Unique users", strconv.Itoa(st.UniqueUsers)})
	table.Append([]string{"Avg response (ms)", formatFloat(st.AverageResponseTime)})
	table.Append([]string{"Error rate", formatFloat(st.ErrorRate)})
	table.Render()

	fmt.Println()
	hourly := tablewriter.NewWriter(os.Stdout)
	hourly.SetHeader([]string{"Hour", "Events"})
	for i := 0; i < 24; i++ {
		label := fmt.Sprintf("%02d", i)
		hourly.Append([]string{label, strconv.Itoa(st.HourlyDistribution[label])})
	}
	hourly.Render()

	renderTopCommands("Top commands", st.TopCommands)
	return nil
}

func (a *app) runEvents() error {
	q := a.query()
	start, end, err := q.Window(time.Now().UTC(), 7)
	if err != nil {
		return err
	}
	events, err := a.svc.GetEventsInRange(a.ctx, start, end, q.Filter())
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(events)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Timestamp", "User", "Channel", "Command", "Resp (ms)", "Err"})
	for i := range events {
		ev := &events[i]
		errMark := ""
		if ev.HasError() {
			errMark = "x"
		}
		table.Append([]string{
			ev.Timestamp, ev.User, ev.Channel,
			ev.CommandBucket(),
			strconv.FormatInt(ev.ResponseTime, 10),
			errMark,
		})
	}
	table.Render()
	fmt.Printf("%d events\n", len(events))
	return nil
}

// runIngest replays EventData NDJSON from stdin through the full buffer and
// flush path. Used for backfills; per the ingestion contract, a single bad
// write does not stop the run.
func (a *app) runIngest() error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var ingested, failed int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var data types.EventData
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			return fmt.Errorf("line %d: %w", ingested+failed+1, err)
		}
		if err := a.svc.LogEvent(data); err != nil {
			failed++
			continue
		}
		ingested++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("ingested %d events (%d failed)\n", ingested, failed)
	return nil
}

func (a *app) runExport(start, end, out string) error {
	rows, err := a.svc.Export(a.ctx, start, end, out)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d rows to %s\n", rows, out)
	return nil
}

func (a *app) runSQL(query string) error {
	db, err := archive.OpenSQL(a.cfg.Archive.SQLMemoryLimit)
	if err != nil {
		return err
	}
	defer db.Close()

	// Convenience placeholder for the archive glob.
	query = strings.ReplaceAll(query, "$ARCHIVE", "'"+archive.Glob(a.cfg.ArchiveDir())+"'")

	columns, rows, err := db.Query(a.ctx, query)
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(rows)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(columns)
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = fmt.Sprintf("%v", row[col])
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Printf("%d rows\n", len(rows))
	return nil
}

// runShell starts an interactive session: go-prompt when stdin is a TTY, a
// plain line reader otherwise (pipes, CI).
func (a *app) runShell() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			a.execLine(scanner.Text())
		}
		return scanner.Err()
	}

	fmt.Printf("sisu-analytics %s — type help, exit to quit\n", Version)
	p := prompt.New(
		a.execLine,
		shellCompleter,
		prompt.OptionPrefix("sisu> "),
		prompt.OptionTitle("sisu-analytics"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			in = strings.TrimSpace(in)
			return breakline && (in == "exit" || in == "quit")
		}),
	)
	p.Run()
	return nil
}

func (a *app) execLine(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	if fields[0] == "exit" || fields[0] == "quit" {
		return
	}
	if err := a.run(fields[0], fields[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
}

func shellCompleter(d prompt.Document) []prompt.Suggest {
	suggestions := []prompt.Suggest{
		{Text: "stats", Description: "overall usage stats"},
		{Text: "channel", Description: "stats for one channel"},
		{Text: "daily", Description: "stats for one UTC day"},
		{Text: "events", Description: "list events in range"},
		{Text: "export", Description: "export a date range to Parquet"},
		{Text: "sql", Description: "SQL over exported archives"},
		{Text: "help", Description: "show commands"},
		{Text: "exit", Description: "leave the shell"},
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func renderTopCommands(title string, commands []types.CommandCount) {
	if len(commands) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(title + ":")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Command", "Count"})
	for _, c := range commands {
		table.Append([]string{c.Command, strconv.Itoa(c.Count)})
	}
	table.Render()
}

func renderCommandUsage(usage map[string]int) {
	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if usage[names[i]] != usage[names[j]] {
			return usage[names[i]] > usage[names[j]]
		}
		return names[i] < names[j]
	})

	fmt.Println("Command usage:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Command", "Count"})
	for _, name := range names {
		table.Append([]string{name, strconv.Itoa(usage[name])})
	}
	table.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
