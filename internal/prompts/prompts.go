package prompts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// ============================================================================
// Prompt registry
// ============================================================================

var (
	// ErrUnknownPrompt is returned by Render for names that are not registered.
	ErrUnknownPrompt = errors.New("unknown prompt")
	// ErrInvalidArgument is returned when a required argument is missing or a value is not allowed.
	ErrInvalidArgument = errors.New("invalid prompt argument")
)

// Argument describes one prompt parameter.
type Argument struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     string   `json:"-"`
	Allowed     []string `json:"-"`
}

// Prompt is a named message template.
type Prompt struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Arguments   []Argument `json:"arguments"`

	tmpl *template.Template
}

var registry = map[string]*Prompt{}

func register(p *Prompt, text string) {
	p.tmpl = template.Must(template.New(p.Name).Parse(text))
	registry[p.Name] = p
}

// List returns the registered prompts ordered by name.
func List() []*Prompt {
	out := make([]*Prompt, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a registered prompt. Underscores in name are accepted in
// place of dashes.
func Get(name string) (*Prompt, bool) {
	p, ok := registry[strings.ReplaceAll(name, "_", "-")]
	return p, ok
}

// Render fills a prompt template. Missing optional arguments take their defaults.
func Render(name string, args map[string]string) (string, error) {
	p, ok := Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}

	values := make(map[string]string, len(p.Arguments))
	for _, a := range p.Arguments {
		v := strings.TrimSpace(args[a.Name])
		if v == "" {
			if a.Required {
				return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, a.Name)
			}
			v = a.Default
		}
		if len(a.Allowed) > 0 && !contains(a.Allowed, v) {
			return "", fmt.Errorf("%w: %s must be one of %s", ErrInvalidArgument, a.Name, strings.Join(a.Allowed, ", "))
		}
		values[a.Name] = v
	}

	var b strings.Builder
	if err := p.tmpl.Execute(&b, values); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return b.String(), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ============================================================================
// Deep paper analysis
// ============================================================================

// DeepPaperAnalysis is the name of the paper analysis prompt.
const DeepPaperAnalysis = "deep-paper-analysis"

// deepPaperAnalysisTemplate walks the reader through a full analysis of one
// paper using the paper tools. Keys: paper_id, expertise_level, analysis_focus.
const deepPaperAnalysisTemplate = `Analyze arXiv paper {{index . "paper_id"}} in depth.

Audience: {{index . "expertise_level"}} reader.
Focus: {{index . "analysis_focus"}}.

Workflow:
1. Call download_paper with paper_id "{{index . "paper_id"}}". If the status is "downloading" or "converting", call it again with check_status true until it reports "success" or "error".
2. Call read_paper with the same paper_id to get the full text.
3. Use search_papers to find closely related work when it helps place the paper in context.

Structure the analysis as:
- Executive summary: the problem, the main idea and the headline result in a few sentences.
- Research context: what prior work this builds on and which gap it addresses.
- Methodology: the approach, key assumptions and any novel techniques.
- Results: the main findings, the evidence behind them and how convincing it is.
- Limitations: weaknesses, threats to validity and open questions.
- Implications: who should care, and what follow-up work is worth doing.
{{- if eq (index . "expertise_level") "beginner"}}

Explain technical terms when they first appear and prefer intuition over notation.
{{- else if eq (index . "expertise_level") "expert"}}

Assume familiarity with the field. Be precise about methods and scrutinize the evaluation.
{{- end}}
{{- if ne (index . "analysis_focus") "general"}}

Spend most of the analysis on {{index . "analysis_focus"}}; keep the other sections short.
{{- end}}
`

func init() {
	register(&Prompt{
		Name:        DeepPaperAnalysis,
		Description: "Comprehensive analysis workflow for an arXiv paper",
		Arguments: []Argument{
			{Name: "paper_id", Description: "arXiv paper identifier, e.g. 2301.12345", Required: true},
			{
				Name:        "expertise_level",
				Description: "Target expertise level: beginner, intermediate or expert",
				Default:     "intermediate",
				Allowed:     []string{"beginner", "intermediate", "expert"},
			},
			{
				Name:        "analysis_focus",
				Description: "Aspect to focus on, e.g. general, methodology, results",
				Default:     "general",
			},
		},
	}, deepPaperAnalysisTemplate)
}
