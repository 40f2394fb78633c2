// Package tools exposes the paper operations as named tools with JSON
// arguments and JSON text results, for agent-facing transports.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/logger"
	"github.com/timmy/papershelf/internal/service"
)

// Tool names.
const (
	SearchPapers  = "search_papers"
	DownloadPaper = "download_paper"
	ListPapers    = "list_papers"
	ReadPaper     = "read_paper"
)

// ErrUnknownTool is returned by Call for names that are not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Conversions starts and reports paper conversions.
type Conversions interface {
	RequestConversion(ctx context.Context, id string, statusOnly bool) *domain.ConversionResponse
}

// Searcher runs paper searches.
type Searcher interface {
	Search(ctx context.Context, req *service.SearchRequest) (*service.SearchResponse, error)
}

// Library lists and reads converted papers.
type Library interface {
	List(ctx context.Context) (*service.LibraryListing, error)
	Read(ctx context.Context, id string) (*service.PaperContent, error)
}

// Definition describes a tool to clients.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the outcome of a tool call. Failures are results with IsError
// set, not Go errors.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the concatenated text content.
func (r *Result) Text() string {
	parts := make([]string, len(r.Content))
	for i, c := range r.Content {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n")
}

type handler func(ctx context.Context, args json.RawMessage) *Result

// Registry dispatches tool calls.
type Registry struct {
	defs     []Definition
	handlers map[string]handler
}

// NewRegistry creates a registry with the paper tools. search may be nil,
// in which case search_papers is not offered.
func NewRegistry(conv Conversions, search Searcher, lib Library) *Registry {
	r := &Registry{handlers: make(map[string]handler)}

	if search != nil {
		r.add(SearchPapers,
			"Search for papers on arXiv with natural language queries, optional date range and category filters.",
			searchSchema,
			func(ctx context.Context, raw json.RawMessage) *Result {
				var args struct {
					Query      string   `json:"query"`
					MaxResults int      `json:"max_results"`
					DateFrom   string   `json:"date_from"`
					DateTo     string   `json:"date_to"`
					Categories []string `json:"categories"`
				}
				if err := decode(raw, &args); err != nil {
					return errorResult(err)
				}
				resp, err := search.Search(ctx, &service.SearchRequest{
					Query:      args.Query,
					MaxResults: args.MaxResults,
					Categories: args.Categories,
					DateFrom:   args.DateFrom,
					DateTo:     args.DateTo,
				})
				if err != nil {
					return errorResult(err)
				}
				return jsonResult(resp, false)
			})
	}

	r.add(DownloadPaper,
		"Download a paper from arXiv and convert it to text. With check_status true, only report the conversion status.",
		downloadSchema,
		func(ctx context.Context, raw json.RawMessage) *Result {
			var args struct {
				PaperID     string `json:"paper_id"`
				CheckStatus bool   `json:"check_status"`
			}
			if err := decode(raw, &args); err != nil {
				return errorResult(err)
			}
			if strings.TrimSpace(args.PaperID) == "" {
				return errorResult(errors.New("paper_id is required"))
			}
			return jsonResult(conv.RequestConversion(ctx, args.PaperID, args.CheckStatus), false)
		})

	r.add(ListPapers,
		"List the papers that have been downloaded and converted.",
		listSchema,
		func(ctx context.Context, raw json.RawMessage) *Result {
			listing, err := lib.List(ctx)
			if err != nil {
				return errorResult(err)
			}
			return jsonResult(listing, false)
		})

	r.add(ReadPaper,
		"Read the converted text of a downloaded paper.",
		readSchema,
		func(ctx context.Context, raw json.RawMessage) *Result {
			var args struct {
				PaperID string `json:"paper_id"`
			}
			if err := decode(raw, &args); err != nil {
				return errorResult(err)
			}
			content, err := lib.Read(ctx, args.PaperID)
			if err != nil {
				return jsonResult(map[string]string{"status": "error", "message": err.Error()}, true)
			}
			return jsonResult(content, false)
		})

	return r
}

func (r *Registry) add(name, description, schema string, h handler) {
	r.defs = append(r.defs, Definition{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(schema),
	})
	r.handlers[name] = h
}

// Definitions returns the tools in registration order.
func (r *Registry) Definitions() []Definition {
	return append([]Definition(nil), r.defs...)
}

// Call runs a tool. Only an unknown name is reported as an error.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	ctx = logger.WithField(ctx, logger.FieldTool, name)
	start := time.Now()
	res := h(ctx, args)

	entry := logger.With(logger.Fields{"is_error": res.IsError}).WithDuration(time.Since(start).Milliseconds())
	if res.IsError {
		entry.Warn(ctx, "Tool call failed")
	} else {
		entry.Info(ctx, "Tool call completed")
	}
	return res, nil
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(v interface{}, isError bool) *Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return &Result{Content: []Content{{Type: "text", Text: string(data)}}, IsError: isError}
}

func errorResult(err error) *Result {
	return &Result{Content: []Content{{Type: "text", Text: "Error: " + err.Error()}}, IsError: true}
}

const searchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"},
    "max_results": {"type": "integer", "description": "Maximum number of results to return", "default": 10},
    "date_from": {"type": "string", "description": "Start date (YYYY-MM-DD)"},
    "date_to": {"type": "string", "description": "End date (YYYY-MM-DD)"},
    "categories": {"type": "array", "items": {"type": "string"}, "description": "arXiv categories, any of which must match"}
  },
  "required": ["query"]
}`

const downloadSchema = `{
  "type": "object",
  "properties": {
    "paper_id": {"type": "string", "description": "arXiv paper identifier, e.g. 2301.12345"},
    "check_status": {"type": "boolean", "description": "Only report conversion status", "default": false}
  },
  "required": ["paper_id"]
}`

const listSchema = `{"type": "object", "properties": {}}`

const readSchema = `{
  "type": "object",
  "properties": {
    "paper_id": {"type": "string", "description": "arXiv paper identifier"}
  },
  "required": ["paper_id"]
}`
