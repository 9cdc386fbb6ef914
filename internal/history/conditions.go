package history

import (
	"strings"

	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/internal/store/query"
)

// mergeConditions rebuilds a filter for documents changed by an update when
// no identity was captured beforehand. The update's $set payload (or the
// whole update when it has no $set) is deep-merged over the original filter
// and every top-level key containing "$" is dropped.
//
// Filter and update keys with different meanings can make the result match
// the wrong documents; this is only a fallback for upserts.
func mergeConditions(filter store.Filter, update store.Update) store.Filter {
	source := update
	if set, ok := update["$set"].(map[string]any); ok {
		source = set
	}
	merged := deepMerge(query.Clone(filter), query.Clone(source))
	if merged == nil {
		merged = store.Filter{}
	}
	for key := range merged {
		if strings.Contains(key, "$") {
			delete(merged, key)
		}
	}
	return merged
}

func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}
