// Package template provides placeholder templating for webhook payloads and
// headers. Placeholders take the form {{path.to.field}} and are resolved
// against a context map; unresolved placeholders are left as literal text so
// a funnel author's typo degrades to visible output instead of an error.
//
// text/template is deliberately not used here: it cannot preserve unresolved
// placeholders verbatim, which this format requires.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/marketloop/funneld/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Context builds the templating context for an enrollment: subscriber.* and
// funnel.* paths.
func Context(funnel *models.Funnel, subscriber *models.Subscriber) map[string]any {
	data := map[string]any{}

	if subscriber != nil {
		sub := map[string]any{
			"id":         subscriber.ID,
			"email":      subscriber.Email,
			"first_name": subscriber.FirstName,
			"last_name":  subscriber.LastName,
			"tags":       strings.Join(subscriber.Tags, ","),
		}

		for key, value := range subscriber.Fields {
			sub[key] = value
		}

		data["subscriber"] = sub
	}

	if funnel != nil {
		data["funnel"] = map[string]any{
			"id":   funnel.ID,
			"name": funnel.Name,
			"slug": funnel.Slug,
		}
	}

	return data
}

// Render substitutes every resolvable {{path}} placeholder in the input.
func Render(input string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]

		value, ok := lookup(data, strings.Split(path, "."))
		if !ok {
			return match
		}

		return stringify(value)
	})
}

// RenderValue renders string leaves of an arbitrary JSON-shaped value,
// recursing through maps and slices.
func RenderValue(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		return Render(v, data)
	case map[string]any:
		rendered := make(map[string]any, len(v))
		for key, item := range v {
			rendered[key] = RenderValue(item, data)
		}

		return rendered
	case []any:
		rendered := make([]any, len(v))
		for i, item := range v {
			rendered[i] = RenderValue(item, data)
		}

		return rendered
	default:
		return value
	}
}

func lookup(data map[string]any, path []string) (any, bool) {
	var current any = data

	for _, segment := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
