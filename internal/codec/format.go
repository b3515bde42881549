package codec

import (
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Format renders a decoded value for logs: strings quoted, tuples as
// {field=value ...} in field order.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return strconv.Quote(t)
	case *orderedmap.OrderedMap[string, any]:
		parts := make([]string, 0, t.Len())
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			parts = append(parts, pair.Key+"="+Format(pair.Value))
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return fmt.Sprint(v)
	}
}
