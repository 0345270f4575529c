package adapt

import (
	"fmt"
	"strings"
)

// MaterialType is the kind of classroom material being adapted.
type MaterialType string

const (
	MaterialWorksheet  MaterialType = "worksheet"
	MaterialReading    MaterialType = "reading"
	MaterialTest       MaterialType = "test"
	MaterialHomework   MaterialType = "homework"
	MaterialLessonPlan MaterialType = "lesson_plan"
	MaterialOther      MaterialType = "other"
)

// MaterialTypes lists the accepted material types in display order.
var MaterialTypes = []MaterialType{
	MaterialWorksheet,
	MaterialReading,
	MaterialTest,
	MaterialHomework,
	MaterialLessonPlan,
	MaterialOther,
}

// Valid reports whether m is one of the known material types.
func (m MaterialType) Valid() bool {
	for _, t := range MaterialTypes {
		if t == m {
			return true
		}
	}
	return false
}

// ProficiencyLevel is a WIDA-style English proficiency level.
type ProficiencyLevel string

const (
	LevelEntering   ProficiencyLevel = "entering"
	LevelEmerging   ProficiencyLevel = "emerging"
	LevelDeveloping ProficiencyLevel = "developing"
	LevelExpanding  ProficiencyLevel = "expanding"
	LevelBridging   ProficiencyLevel = "bridging"
	LevelReaching   ProficiencyLevel = "reaching"
)

// ProficiencyLevels lists the accepted levels from lowest to highest.
var ProficiencyLevels = []ProficiencyLevel{
	LevelEntering,
	LevelEmerging,
	LevelDeveloping,
	LevelExpanding,
	LevelBridging,
	LevelReaching,
}

// Valid reports whether l is one of the known proficiency levels.
func (l ProficiencyLevel) Valid() bool {
	for _, p := range ProficiencyLevels {
		if p == l {
			return true
		}
	}
	return false
}

// Request describes one adaptation of educator-supplied content. It is
// passed by value and never mutated after construction.
type Request struct {
	Content            string           `json:"content"`
	MaterialType       MaterialType     `json:"materialType"`
	Subject            string           `json:"subject"`
	GradeLevel         string           `json:"gradeLevel,omitempty"`
	ProficiencyLevel   ProficiencyLevel `json:"proficiencyLevel"`
	LearningObjectives string           `json:"learningObjectives,omitempty"`
	BilingualSupport   bool             `json:"bilingualSupport"`
	NativeLanguage     string           `json:"nativeLanguage,omitempty"`
	MaxOutputTokens    int              `json:"maxOutputTokens,omitempty"`
}

// Result is the normalized output of a backend, independent of provider.
type Result struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every invalid field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Validate returns a *ValidationError listing every problem with r, or nil.
func (r Request) Validate() error {
	ve := &ValidationError{}
	if strings.TrimSpace(r.Content) == "" {
		ve.add("content", "is required")
	}
	if strings.TrimSpace(r.Subject) == "" {
		ve.add("subject", "is required")
	}
	if !r.MaterialType.Valid() {
		ve.add("materialType", fmt.Sprintf("must be one of %v", MaterialTypes))
	}
	if !r.ProficiencyLevel.Valid() {
		ve.add("proficiencyLevel", fmt.Sprintf("must be one of %v", ProficiencyLevels))
	}
	if r.BilingualSupport && strings.TrimSpace(r.NativeLanguage) == "" {
		ve.add("nativeLanguage", "is required when bilingualSupport is set")
	}
	if r.MaxOutputTokens < 0 {
		ve.add("maxOutputTokens", "must not be negative")
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}
