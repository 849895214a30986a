package aspectscore

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
)

// AspectDef names one of the fixed aspects.
type AspectDef struct {
	Key   string // key in the aspects JSON file
	Label string // short label used in score column names
}

// DefaultAspects are the four aspects courses are scored against, in
// column order.
var DefaultAspects = []AspectDef{
	{Key: "personal_development", Label: "skills"},
	{Key: "product_development", Label: "product"},
	{Key: "venture_building", Label: "venture"},
	{Key: "entrepreneurship_foundations", Label: "foundations"},
}

// AspectTexts holds the reference text of each aspect, keyed by AspectDef.Key.
type AspectTexts map[string]string

// AspectLabels returns the labels of DefaultAspects in order.
func AspectLabels() []string {
	labels := make([]string, len(DefaultAspects))
	for i, d := range DefaultAspects {
		labels[i] = d.Label
	}
	return labels
}

// ParseAspectTexts decodes an aspects JSON object. The object must hold
// exactly the keys of DefaultAspects, each with non-empty text; all
// offending keys are reported together.
func ParseAspectTexts(data []byte) (AspectTexts, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("aspects: %w", err)
	}

	texts := make(AspectTexts, len(DefaultAspects))
	var missing []string
	for _, d := range DefaultAspects {
		s, ok := raw[d.Key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			missing = append(missing, d.Key)
			continue
		}
		texts[d.Key] = s
	}

	var unknown []string
	for k := range raw {
		if !slices.ContainsFunc(DefaultAspects, func(d AspectDef) bool { return d.Key == k }) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing or empty aspect text(s): "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		problems = append(problems, "unknown aspect key(s): "+strings.Join(unknown, ", "))
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("aspects: %s", strings.Join(problems, "; "))
	}
	return texts, nil
}

// LoadAspectTexts reads and validates an aspects JSON file.
func LoadAspectTexts(path string) (AspectTexts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("aspects: %w", err)
	}
	texts, err := ParseAspectTexts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return texts, nil
}
