package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// FieldSeparator joins nested keys when a record is flattened.
const FieldSeparator = "."

// Flatten turns a nested record into a single level of dotted field names
// with scalar values. Lists and other composite values become JSON text.
func Flatten(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	flattenInto(out, "", record)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + FieldSeparator + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = Normalize(v)
	}
}

// Normalize maps a decoded value onto the scalar set the codecs store:
// nil, bool, int64, float64 or string.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, int64, float64, string:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint:
		if val > math.MaxInt64 {
			return strconv.FormatUint(uint64(val), 10)
		}
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return strconv.FormatUint(val, 10)
		}
		return int64(val)
	case float32:
		return float64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
		return jsonText(val)
	case fmt.Stringer:
		return val.String()
	default:
		return jsonText(val)
	}
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// FieldNames returns the sorted union of non-null field names in records.
func FieldNames(records []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k, v := range rec {
			if v != nil {
				seen[k] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FormatValue renders a stored scalar as text.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(Normalize(val))
	}
}
