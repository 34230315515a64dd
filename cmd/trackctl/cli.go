package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v2"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/challenge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/validate"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(cfg *config.Config, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "trackctl",
		Usage:   "Run tracking lab challenges offline",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "catalog", Value: cfg.Catalog.Dir, Usage: "Directory of extra challenge files"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log to stderr"},
		},
		Commands: []*cli.Command{
			challengesCmd(),
			renderCmd(cfg),
			gradeCmd(cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// challengesCmd lists the catalog.
func challengesCmd() *cli.Command {
	return &cli.Command{
		Name:  "challenges",
		Usage: "List available challenges",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Usage: "Only list this category"},
		},
		Action: func(c *cli.Context) error {
			catalog, err := loadCatalog(c)
			if err != nil {
				return outputError(err)
			}
			var category *string
			if cat := c.String("category"); cat != "" {
				category = &cat
			}
			return outputJSON(c.App.Writer, catalog.ListMetadata(category))
		},
	}
}

// renderCmd prints the page a challenge renders: the isolated document for
// custom challenges, the host page otherwise.
func renderCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "Print the rendered challenge page",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "challenge", Aliases: []string{"c"}, Required: true, Usage: "Challenge id"},
			&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Container id to inject"},
		},
		Action: func(c *cli.Context) error {
			r, err := newRun(c, cfg)
			if err != nil {
				return outputError(err)
			}
			defer r.close()

			if err := r.tag(c.String("tag")); err != nil {
				return outputError(err)
			}
			doc := r.session.HostDocument()
			if r.session.Challenge().Isolated() {
				if doc, err = r.session.Document(r.ctx); err != nil {
					return outputError(err)
				}
			}
			_, err = fmt.Fprintln(c.App.Writer, doc)
			return err
		},
	}
}

// gradeResult is what grade prints.
type gradeResult struct {
	Challenge string                  `json:"challenge"`
	Board     objective.Board         `json:"board"`
	Events    []capture.CapturedEvent `json:"events,omitempty"`
	Captured  int                     `json:"captured"`
}

// gradeCmd replays a scripted attempt and grades it.
func gradeCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "grade",
		Usage: "Replay actions against a challenge and print its objectives",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "challenge", Aliases: []string{"c"}, Required: true, Usage: "Challenge id"},
			&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Container id to inject"},
			&cli.StringSliceFlag{Name: "push", Usage: "Data layer entry as JSON (repeatable)"},
			&cli.StringSliceFlag{Name: "click", Usage: "CSS selector to click in the frame (repeatable)"},
			&cli.StringSliceFlag{Name: "beacon", Usage: "URL to send a beacon to from the host page (repeatable)"},
			&cli.BoolFlag{Name: "events", Usage: "Include captured events in the output"},
			&cli.BoolFlag{Name: "strict", Usage: "Exit with status 2 unless every objective is met"},
		},
		Action: func(c *cli.Context) error {
			r, err := newRun(c, cfg)
			if err != nil {
				return outputError(err)
			}
			defer r.close()

			if err := r.tag(c.String("tag")); err != nil {
				return outputError(err)
			}
			for _, raw := range c.StringSlice("push") {
				var entry map[string]any
				if err := sonic.UnmarshalString(raw, &entry); err != nil {
					return outputError(fmt.Errorf("invalid --push %q: %w", raw, err))
				}
				if err := validate.Entries([]byte(raw), []map[string]any{entry}); err != nil {
					return outputError(fmt.Errorf("invalid --push: %w", err))
				}
				r.session.PushDataLayer(entry)
			}
			for _, sel := range c.StringSlice("click") {
				if err := r.session.Click(r.ctx, sel); err != nil {
					return outputError(fmt.Errorf("click %s: %w", sel, err))
				}
			}
			for _, url := range c.StringSlice("beacon") {
				if _, err := r.session.Egress(r.ctx, session.EgressCall{Kind: capture.KindBeacon, URL: url}); err != nil {
					return outputError(err)
				}
			}
			r.settle()

			board, err := r.session.Board()
			if err != nil {
				return outputError(err)
			}
			events := r.session.Events()
			res := gradeResult{Challenge: r.session.Challenge().ID, Board: board, Captured: len(events)}
			if c.Bool("events") {
				res.Events = events
			}
			if err := outputJSON(c.App.Writer, res); err != nil {
				return err
			}
			if c.Bool("strict") && !board.Complete {
				return cli.Exit(fmt.Sprintf("%d of %d objectives met", board.Met, board.Total), 2)
			}
			return nil
		},
	}
}

// run is one throwaway session.
type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	manager  *session.Manager
	session  *session.Session
	settleIn time.Duration
}

func newRun(c *cli.Context, cfg *config.Config) (*run, error) {
	catalog, err := loadCatalog(c)
	if err != nil {
		return nil, err
	}
	manager := session.NewManager(server.SessionConfig(cfg), session.Deps{
		Catalog: catalog,
		Logger:  newLogger(c).Logger,
	})
	ctx, cancel := context.WithCancel(c.Context)
	s, err := manager.Create(ctx, session.CreateOptions{ChallengeID: c.String("challenge")})
	if err != nil {
		cancel()
		manager.Shutdown()
		return nil, err
	}
	r := &run{ctx: ctx, cancel: cancel, manager: manager, session: s, settleIn: cfg.Sandbox.LoadTimeout}
	r.settle()
	return r, nil
}

func (r *run) tag(id string) error {
	if id == "" {
		return nil
	}
	if _, err := r.session.SubmitTag(r.ctx, id); err != nil {
		return err
	}
	r.settle()
	return nil
}

// settle waits twice: frame messages can trail the frame going idle.
func (r *run) settle() {
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(r.ctx, r.settleIn)
		_ = r.session.Settle(ctx)
		cancel()
	}
}

func (r *run) close() {
	r.cancel()
	r.manager.Shutdown()
}

func loadCatalog(c *cli.Context) (*challenge.Catalog, error) {
	catalog := challenge.NewBuiltinCatalog(nil)
	dir := c.String("catalog")
	if dir == "" {
		return catalog, nil
	}
	if _, err := challenge.NewSeeder(catalog, newLogger(c).Component("catalog")).LoadDir(dir); err != nil {
		return nil, err
	}
	return catalog, nil
}

// newLogger keeps stdout for command output.
func newLogger(c *cli.Context) *logging.Logger {
	if !c.Bool("verbose") {
		return logging.NewNop()
	}
	cfg := logging.DevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	l, err := logging.New(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return l
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the CLI.
func outputError(err error) error {
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return err
	}
	return cli.Exit(err.Error(), 1)
}
