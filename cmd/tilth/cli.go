package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/app"
	"github.com/hpungsan/tilth/internal/attach"
	"github.com/hpungsan/tilth/internal/config"
	"github.com/hpungsan/tilth/internal/drain"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/feature"
	"github.com/hpungsan/tilth/internal/mcp"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/netstatus"
	"github.com/hpungsan/tilth/internal/optimistic"
	"github.com/hpungsan/tilth/internal/web"
)

// env carries what commands need to build the application. The app is
// built on first use so --help never touches the store.
type env struct {
	baseDir string
	db      *sql.DB
	cfg     *config.Config
	logger  *zap.Logger
	opts    app.Options

	app *app.App
}

// open returns the application, building it on first call. --offline and
// --online override the starting connectivity.
func (e *env) open(c *cli.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	var online *bool
	switch {
	case c.Bool("offline"):
		v := false
		online = &v
	case c.Bool("online"):
		v := true
		online = &v
	}
	return e.build(c.Context, online)
}

func (e *env) build(ctx context.Context, online *bool) (*app.App, error) {
	opts := e.opts
	if online != nil {
		opts.Online = online
	}
	a, err := app.New(ctx, e.cfg, e.db, e.logger, opts)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

func (e *env) close() {
	if e != nil && e.app != nil {
		e.app.Close()
		e.app = nil
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "tilth",
		Usage:   "Offline-first farming companion",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "offline", Usage: "Start offline: writes are queued until the next sync"},
			&cli.BoolFlag{Name: "online", Usage: "Start online without probing"},
		},
		Commands: []*cli.Command{
			statusCmd(e),
			queueCmd(e),
			syncCmd(e),
			postCmd(e),
			taskStatusCmd(e),
			bookmarkCmd(e),
			outcomeCmd(e),
			tutorialCmd(e),
			supplierCmd(e),
			calendarTaskCmd(e),
			diagnoseCmd(e),
			askCmd(e),
			suppliersCmd(e),
			weatherCmd(e),
			serveCmd(e),
			mcpCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// statusCmd creates the status command.
func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show connectivity, pending actions and the last sync",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "pretty", Usage: "Render for humans instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			st := a.Status()
			if c.Bool("pretty") {
				fmt.Fprintln(os.Stdout, renderStatus(st))
				return nil
			}
			return outputJSON(st)
		},
	}
}

// queueCmd creates the queue command and its subcommands.
func queueCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect or clear queued offline actions",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List queued actions in replay order",
				Action: func(c *cli.Context) error {
					a, err := e.open(c)
					if err != nil {
						return outputError(err)
					}
					items, err := a.Queue.ListPending(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"items": items, "count": len(items)})
				},
			},
			{
				Name:  "clear",
				Usage: "Discard every queued action without sending it",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Skip confirmation"},
				},
				Action: func(c *cli.Context) error {
					a, err := e.open(c)
					if err != nil {
						return outputError(err)
					}
					n, err := a.Queue.Count(c.Context)
					if err != nil {
						return outputError(err)
					}
					ok, err := confirm(c, fmt.Sprintf("Discard %d queued action(s)? They will never be synced.", n))
					if err != nil {
						return outputError(err)
					}
					if !ok {
						return outputJSON(map[string]any{"cleared": 0, "cancelled": true})
					}
					cleared, err := a.Queue.ClearAll(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"cleared": cleared})
				},
			},
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Replay queued actions against the backend",
		Action: func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			res, err := a.Sync(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(res)
		},
	}
}

// postCmd creates the post command.
func postCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "post",
		Usage: "Share a post with the community (content from --content or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "Post text"},
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "Optional image file"},
		},
		Action: func(c *cli.Context) error {
			content := c.String("content")
			if content == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				content = text
			}
			if content == "" {
				return outputError(errors.NewInvalidRequest("content is required"))
			}

			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			var image *model.Attachment
			if path := c.String("image"); path != "" {
				image, err = attach.ReadImage(path, a.Config.MaxAttachmentBytes)
				if err != nil {
					return outputError(err)
				}
			}

			post, outcome, err := a.Community.AddPost(c.Context, a.User(), content, image)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"post": post, "outcome": outcome})
		},
	}
}

// taskStatusCmd creates the task-status command.
func taskStatusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "task-status",
		Usage:     "Mark a calendar task done (or not done with --undone)",
		ArgsUsage: "<task-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "undone", Usage: "Mark the task as not done"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("task id is required"))
			}
			taskID := c.Args().First()
			done := !c.Bool("undone")

			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			outcome, err := a.Calendar.SetTaskStatus(c.Context, a.User(), taskID, done)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"task_id": taskID, "is_done": done, "outcome": outcome})
		},
	}
}

// bookmarkCmd creates the bookmark command.
func bookmarkCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "bookmark",
		Usage:     "Look up a question and bookmark its answer",
		ArgsUsage: "<question>",
		Action: func(c *cli.Context) error {
			question := strings.Join(c.Args().Slice(), " ")
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			answer, err := a.Knowledge.Ask(c.Context, a.User(), question)
			if err != nil {
				return outputError(err)
			}
			outcome, err := a.Knowledge.Bookmark(c.Context, a.User(), answer)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"answer": answer, "outcome": outcome})
		},
	}
}

// outcomeCmd creates the outcome command.
func outcomeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "outcome",
		Usage: "Record a harvest outcome",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "crop", Required: true, Usage: "Crop name"},
			&cli.Float64Flag{Name: "amount", Required: true, Usage: "Yield amount"},
			&cli.StringFlag{Name: "unit", Value: "quintal", Usage: "Yield unit"},
			&cli.Float64Flag{Name: "revenue", Usage: "Revenue earned"},
			&cli.StringFlag{Name: "notes", Usage: "Free-form notes"},
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: `Harvest date: YYYY-MM-DD or phrases like "last friday" (default today)`},
		},
		Action: func(c *cli.Context) error {
			date, err := parseDate(c.String("date"), time.Now())
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			o, outcome, err := a.Tracker.AddOutcome(c.Context, a.User(), model.Outcome{
				Date:        date,
				CropName:    c.String("crop"),
				YieldAmount: c.Float64("amount"),
				YieldUnit:   c.String("unit"),
				Revenue:     c.Float64("revenue"),
				Notes:       c.String("notes"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"outcome": o, "result": outcome})
		},
	}
}

// diagnoseCmd creates the diagnose command.
func diagnoseCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "diagnose",
		Usage: "Diagnose a crop photo (queued for later when offline)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Required: true, Usage: "Image file"},
		},
		Action: func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			img, err := attach.ReadImage(c.String("image"), a.Config.MaxAttachmentBytes)
			if err != nil {
				return outputError(err)
			}
			res, err := a.Diagnosis.Submit(c.Context, a.User(), *img)
			if err != nil {
				return outputError(err)
			}
			out := map[string]any{"diagnosis": res.Diagnosis, "report": res.Report, "outcome": res.Outcome}
			if res.SaveErr != nil {
				out["save_error"] = res.SaveErr.Error()
			}
			return outputJSON(out)
		},
	}
}

// askCmd creates the ask command.
func askCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a farming question (offline: previously asked questions only)",
		ArgsUsage: "<question>",
		Action: func(c *cli.Context) error {
			question := strings.Join(c.Args().Slice(), " ")
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			answer, err := a.Knowledge.Ask(c.Context, a.User(), question)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(answer)
		},
	}
}

// suppliersCmd creates the suppliers command.
func suppliersCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "suppliers",
		Usage: "List suppliers (cached copy when offline)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "download", Usage: "Refresh the offline copy"},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Filter by name or district"},
		},
		Action: func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("download") {
				n, err := a.Directory.DownloadForOffline(c.Context)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(map[string]any{"downloaded": n})
			}
			suppliers, err := a.Directory.Load(c.Context)
			if err != nil {
				return outputError(err)
			}
			if term := c.String("search"); term != "" {
				suppliers = a.Directory.Search(term)
			}
			if suppliers == nil {
				suppliers = []model.Supplier{}
			}
			return outputJSON(map[string]any{"suppliers": suppliers, "count": len(suppliers)})
		},
	}
}

// weatherCmd creates the weather command.
func weatherCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "weather",
		Usage: "Show the forecast and crop disease risk",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "lat", Value: 17.385, Usage: "Latitude"},
			&cli.Float64Flag{Name: "lon", Value: 78.4867, Usage: "Longitude"},
		},
		Action: func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			snap, err := a.Weather.Load(c.Context, c.Float64("lat"), c.Float64("lon"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"weather":    snap,
				"prediction": feature.Prediction(snap.Risk, a.Status().Language),
			})
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the status API and event stream over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Listen address (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			bind, port := a.Config.HTTPBind, a.Config.HTTPPort
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			if c.IsSet("port") {
				port = c.Int("port")
			}
			if err := a.Start(c.Context); err != nil {
				return outputError(err)
			}
			return web.NewServer(a, Version, bind, port).Run(c.Context)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			if _, err := e.open(c); err != nil {
				return outputError(err)
			}
			return runMCP(e)
		},
	}
}

// runMCP serves MCP over stdio with the connectivity sources running.
func runMCP(e *env) error {
	ctx := context.Background()
	a := e.app
	if a == nil {
		var err error
		if a, err = e.build(ctx, nil); err != nil {
			return err
		}
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	return mcp.Run(a, Version)
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	switch {
	case stderrors.Is(err, netstatus.ErrOffline):
		return cli.Exit(fmt.Sprintf("[OFFLINE] %s", err), 1)
	case stderrors.Is(err, drain.ErrDrainInProgress):
		return cli.Exit(fmt.Sprintf("[DRAIN_IN_PROGRESS] %s", err), 1)
	}
	var tErr *errors.TilthError
	if stderrors.As(err, &tErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", tErr.Code, tErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// confirm asks before a destructive step unless --yes was given.
func confirm(c *cli.Context, title string) (bool, error) {
	if c.Bool("yes") {
		return true, nil
	}
	if !isTerminal() {
		return false, errors.NewInvalidRequest("confirmation required: pass --yes when not running in a terminal")
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return ok, nil
}

// parseDate accepts YYYY-MM-DD or a natural phrase ("yesterday",
// "last friday") relative to now. Empty means today.
func parseDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Format(time.DateOnly), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Format(time.DateOnly), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q: use YYYY-MM-DD or a phrase like \"last friday\"", s)
	}
	return r.Time.Format(time.DateOnly), nil
}

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(11)
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Italic(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderStatus formats a status for `status --pretty`.
func renderStatus(st app.Status) string {
	network := onlineStyle.Render("online")
	if !st.Online {
		network = offlineStyle.Render("offline")
	}
	lines := []string{
		labelStyle.Render("network") + network,
		labelStyle.Render("pending") + fmt.Sprintf("%d", st.Pending),
	}
	if st.Draining {
		lines = append(lines, labelStyle.Render("sync")+"in progress")
	}
	if st.LastSync != nil {
		lines = append(lines, labelStyle.Render("last sync")+fmt.Sprintf(
			"%d ok, %d skipped, %d failed", st.LastSync.Succeeded, st.LastSync.Skipped, st.LastSync.Failed))
	}
	if st.StoreError != "" {
		lines = append(lines, labelStyle.Render("store")+offlineStyle.Render("unavailable"))
	}
	if st.Notice != "" {
		lines = append(lines, noticeStyle.Render(st.Notice))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseList splits a comma-separated string, dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// outcomeResult is the JSON shape of admin writes.
func outcomeResult(record any, outcome optimistic.Outcome) map[string]any {
	return map[string]any{"record": record, "outcome": outcome}
}
