package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/timmy/papershelf/internal/app"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/prompts"
	"github.com/timmy/papershelf/internal/service"
	"github.com/timmy/papershelf/internal/source/staging"
)

var errUsage = errors.New("invalid usage")

// CLI dispatches subcommands against an in-process App.
type CLI struct {
	App          *app.App
	Out          io.Writer
	PollInterval time.Duration
}

// Run executes one subcommand. args[0] is the command name.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "search":
		return c.search(ctx, rest)
	case "download":
		return c.download(ctx, rest)
	case "status":
		return c.status(ctx, rest)
	case "list":
		return c.list(ctx)
	case "read":
		return c.read(ctx, rest)
	case "prompt":
		return c.prompt(rest)
	case "import":
		return c.importStaged(ctx, rest)
	case "retry":
		return c.retry(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (c *CLI) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	maxResults := fs.Int("max", 10, "Maximum number of results")
	categories := fs.String("categories", "", "Comma-separated category filter")
	from := fs.String("from", "", "Earliest publication date")
	to := fs.String("to", "", "Latest publication date")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: search needs a query", errUsage)
	}

	req := &service.SearchRequest{
		Query:      strings.Join(fs.Args(), " "),
		MaxResults: *maxResults,
		DateFrom:   *from,
		DateTo:     *to,
	}
	for _, cat := range strings.Split(*categories, ",") {
		if cat = strings.TrimSpace(cat); cat != "" {
			req.Categories = append(req.Categories, cat)
		}
	}

	resp, err := c.App.Search.Search(ctx, req)
	if err != nil {
		return err
	}
	return c.print(resp)
}

func (c *CLI) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	wait := fs.Bool("wait", false, "Poll until the conversion finishes")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}

	resp := c.App.Conversions.RequestConversion(ctx, id, false)
	if !*wait || isSettled(resp.Status) {
		return c.print(resp)
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	last := resp.Status
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		resp = c.App.Conversions.RequestConversion(ctx, id, true)
		if resp.Status != last {
			fmt.Fprintf(c.Out, "%s: %s\n", id, resp.Status)
			last = resp.Status
		}
		if isSettled(resp.Status) {
			return c.print(resp)
		}
	}
}

func (c *CLI) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	forget := fs.Bool("forget", false, "Drop a finished job record so the paper can be retried")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}

	if *forget {
		if !c.App.Conversions.Forget(id) {
			return fmt.Errorf("no finished job for paper %s", id)
		}
		fmt.Fprintf(c.Out, "forgot %s\n", id)
		return nil
	}
	return c.print(c.App.Conversions.RequestConversion(ctx, id, true))
}

func (c *CLI) list(ctx context.Context) error {
	listing, err := c.App.Library.List(ctx)
	if err != nil {
		return err
	}
	return c.print(listing)
}

func (c *CLI) read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: read needs exactly one paper id", errUsage)
	}
	content, err := c.App.Library.Read(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.Out, content.Content)
	return err
}

func (c *CLI) prompt(args []string) error {
	fs := flag.NewFlagSet("prompt", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	expertise := fs.String("expertise", "", "beginner, intermediate or expert")
	focus := fs.String("focus", "", "Aspect of the paper to emphasise")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	name, id := prompts.DeepPaperAnalysis, ""
	switch fs.NArg() {
	case 1:
		id = fs.Arg(0)
	case 2:
		name, id = fs.Arg(0), fs.Arg(1)
	default:
		return fmt.Errorf("%w: prompt needs a paper id", errUsage)
	}

	promptArgs := map[string]string{"paper_id": id}
	if *expertise != "" {
		promptArgs["expertise_level"] = *expertise
	}
	if *focus != "" {
		promptArgs["analysis_focus"] = *focus
	}

	text, err := prompts.Render(name, promptArgs)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.Out, text)
	return err
}

func (c *CLI) importStaged(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 100, "Maximum number of papers to import")
	force := fs.Bool("force", false, "Reconvert papers that are already available")
	root := fs.String("root", c.App.Config.Ingest.StagingRoot, "Staging root directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 || !staging.ValidName(fs.Arg(0)) {
		return fmt.Errorf("%w: import needs one staging directory name", errUsage)
	}

	stats, err := c.App.Ingest.IngestFromSource(ctx, staging.NewAdapter(*root, fs.Arg(0)), *limit, &service.IngestOptions{
		Force: *force,
	})
	if err != nil {
		return err
	}
	return c.print(stats)
}

func (c *CLI) retry(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 0, "Maximum number of failed papers to retry, 0 for all")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	stats, err := c.App.Ingest.RetryFailed(ctx, *limit)
	if err != nil {
		return err
	}
	return c.print(stats)
}

func (c *CLI) print(v interface{}) error {
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func singleID(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%w: %s needs exactly one paper id", errUsage, fs.Name())
	}
	return fs.Arg(0), nil
}

// isSettled reports whether polling can stop.
func isSettled(status string) bool {
	switch status {
	case string(domain.PhaseSucceeded), string(domain.PhaseFailed), domain.StatusUnknown:
		return true
	}
	return false
}
