package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// collapseValue flattens an arbitrary JSON value to its display string.
// Objects prefer displayName, then name, then value; arrays join their
// collapsed elements with ", ".
func collapseValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]interface{}:
		for _, key := range []string{"displayName", "name", "value"} {
			if inner, ok := val[key]; ok {
				if s := collapseValue(inner); s != "" {
					return s
				}
			}
		}
		return ""
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := collapseValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// stringField reads a top-level string from a decoded JSON object.
func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// nestedString reads a string at a dotted path through nested objects.
func nestedString(m map[string]interface{}, path ...string) string {
	current := m
	for i, key := range path {
		v, ok := current[key]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			if s, ok := v.(string); ok {
				return s
			}
			return collapseValue(v)
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return ""
		}
		current = next
	}
	return ""
}

// numberField reads a top-level number as int.
func numberField(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}

const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// parseJiraTime parses Jira's timestamp format, falling back to RFC3339.
func parseJiraTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(jiraTimeLayout, value); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// parseRFC3339 parses GitHub's timestamp format.
func parseRFC3339(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
