package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"svgstudio/internal/domain"
)

// GenerateInput is the body of a generation request.
type GenerateInput struct {
	Prompt  string         `json:"prompt"`
	Style   string         `json:"style"`
	Privacy domain.Privacy `json:"privacy"`
	Model   string         `json:"model"`
}

var allowedStyles = map[string]struct{}{
	"flat":       {},
	"line-art":   {},
	"isometric":  {},
	"minimal":    {},
	"hand-drawn": {},
	"gradient":   {},
	"outline":    {},
}

const (
	// DefaultStyle is applied when the request omits the style.
	DefaultStyle = "flat"
	// DefaultModel is applied when the request omits the model.
	DefaultModel = "svg-standard"
	// MaxPromptLength caps the prompt in runes.
	MaxPromptLength = 1000
)

// Normalize trims fields and fills defaults.
func (in *GenerateInput) Normalize() {
	if in == nil {
		return
	}
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.Style = strings.ToLower(strings.TrimSpace(in.Style))
	if in.Style == "" {
		in.Style = DefaultStyle
	}
	in.Model = strings.TrimSpace(in.Model)
	if in.Model == "" {
		in.Model = DefaultModel
	}
	if in.Privacy == "" {
		in.Privacy = domain.PrivacyPublic
	}
}

// Validate ensures the input satisfies the request contract.
func (in GenerateInput) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrInvalidPrompt)
	}
	if utf8.RuneCountInString(in.Prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt must be at most %d characters", domain.ErrInvalidPrompt, MaxPromptLength)
	}
	if _, ok := allowedStyles[in.Style]; !ok {
		return fmt.Errorf("style must be one of %s", strings.Join(Styles(), ", "))
	}
	if _, err := domain.ParsePrivacy(string(in.Privacy)); err != nil {
		return err
	}
	return nil
}

// Styles lists accepted style identifiers in display order.
func Styles() []string {
	return []string{"flat", "line-art", "isometric", "minimal", "hand-drawn", "gradient", "outline"}
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
