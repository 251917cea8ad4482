package config

// Typed accessors for loosely typed property maps such as rule registration
// properties. Each returns defaultVal when the key is missing or mistyped.

// GetString extracts a string
func GetString(cfg map[string]any, key string, defaultVal string) string {
	if str, ok := cfg[key].(string); ok {
		return str
	}
	return defaultVal
}

// GetInt extracts an integer from any numeric type
func GetInt(cfg map[string]any, key string, defaultVal int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return defaultVal
}

// GetStringSlice extracts []string, accepting []any of strings
func GetStringSlice(cfg map[string]any, key string, defaultVal []string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	}
	return defaultVal
}
