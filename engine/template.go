package engine

import (
	"fmt"
	"regexp"
	"time"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// RenderTemplate substitutes {{field}} placeholders from the context map.
// A missing key renders as the empty string rather than failing the whole
// delivery over optional data. Rendering is pure: same inputs, same output.
func RenderTemplate(tmpl string, context map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := context[key]
		if !ok || value == nil {
			return ""
		}
		return formatValue(value)
	})
}

// formatValue renders a context value the way it should read in a message.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format("2006-01-02 15:04")
	case float64:
		// Trim the trailing zeroes JSON decoding introduces on whole numbers
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
