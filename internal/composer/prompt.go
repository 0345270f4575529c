package composer

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/backend"
)

const defaultMaxContentTokens = 50000

//go:embed descriptors.yaml
var descriptorsYAML []byte

// LevelDescriptor describes one proficiency level.
type LevelDescriptor struct {
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Guidance    []string `yaml:"guidance"`
}

// MaterialDescriptor describes one material type.
type MaterialDescriptor struct {
	Label    string `yaml:"label"`
	Guidance string `yaml:"guidance"`
}

// Descriptors are the static lookup tables the prompt is built from.
type Descriptors struct {
	Levels    map[adapt.ProficiencyLevel]LevelDescriptor `yaml:"levels"`
	Materials map[adapt.MaterialType]MaterialDescriptor  `yaml:"materials"`
}

// ParseDescriptors decodes descriptor tables and checks that every known
// level and material type is described.
func ParseDescriptors(data []byte) (Descriptors, error) {
	var d Descriptors
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptors{}, fmt.Errorf("parsing descriptors: %w", err)
	}
	for _, l := range adapt.ProficiencyLevels {
		if _, ok := d.Levels[l]; !ok {
			return Descriptors{}, fmt.Errorf("descriptors: missing level %q", l)
		}
	}
	for _, m := range adapt.MaterialTypes {
		if _, ok := d.Materials[m]; !ok {
			return Descriptors{}, fmt.Errorf("descriptors: missing material %q", m)
		}
	}
	return d, nil
}

// Composer builds the role-tagged prompt for an adaptation request.
type Composer struct {
	MaxContentTokens int
	desc             Descriptors
}

// New creates a Composer from the bundled descriptors. If
// maxContentTokens <= 0, the default (50000) is used.
func New(maxContentTokens int) (*Composer, error) {
	d, err := ParseDescriptors(descriptorsYAML)
	if err != nil {
		return nil, err
	}
	return NewWithDescriptors(d, maxContentTokens), nil
}

// NewWithDescriptors creates a Composer from already parsed tables.
func NewWithDescriptors(d Descriptors, maxContentTokens int) *Composer {
	if maxContentTokens <= 0 {
		maxContentTokens = defaultMaxContentTokens
	}
	return &Composer{MaxContentTokens: maxContentTokens, desc: d}
}

// Compose validates req and returns a system message with the adaptation
// instructions followed by a user message carrying the material.
func (c *Composer) Compose(req adapt.Request) ([]backend.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if n := EstimateTokens(req.Content); n > c.MaxContentTokens {
		return nil, &adapt.ValidationError{Fields: []adapt.FieldError{{
			Field:   "content",
			Message: fmt.Sprintf("is too long (about %d tokens, limit %d)", n, c.MaxContentTokens),
		}}}
	}

	return []backend.Message{
		{Role: backend.RoleSystem, Content: c.systemPrompt(req)},
		{Role: backend.RoleUser, Content: c.userPrompt(req)},
	}, nil
}

func (c *Composer) systemPrompt(req adapt.Request) string {
	level := c.desc.Levels[req.ProficiencyLevel]
	material := c.desc.Materials[req.MaterialType]

	var sb strings.Builder
	sb.WriteString("You are an expert ESL/ELL teacher who adapts classroom materials for English language learners.\n\n")
	fmt.Fprintf(&sb, "[Student Level]\n%s: %s\n\n", level.Label, level.Description)
	sb.WriteString("[Language Guidance]\n")
	for _, g := range level.Guidance {
		fmt.Fprintf(&sb, "- %s\n", g)
	}
	fmt.Fprintf(&sb, "\n[Material]\n%s: %s\n", material.Label, material.Guidance)

	if req.BilingualSupport {
		fmt.Fprintf(&sb, "\n[Bilingual Support]\nAdd %s translations for key vocabulary and directions. Keep the main text in English.\n", req.NativeLanguage)
	}

	sb.WriteString("\nReturn only the adapted material in Markdown. Keep all content objectives intact.")
	return sb.String()
}

func (c *Composer) userPrompt(req adapt.Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n", req.Subject)
	if req.GradeLevel != "" {
		fmt.Fprintf(&sb, "Grade level: %s\n", req.GradeLevel)
	}
	if req.LearningObjectives != "" {
		fmt.Fprintf(&sb, "Learning objectives: %s\n", req.LearningObjectives)
	}
	sb.WriteString("\nOriginal material:\n\n")
	sb.WriteString(req.Content)
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
