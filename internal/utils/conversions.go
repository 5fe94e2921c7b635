package utils

import "fmt"

// ToStringSlice flattens a decoded JSON value into strings. Field errors from
// the backend arrive either as a single string or as a list of strings.
func ToStringSlice(value any) []string {
	stringSlice := make([]string, 0)
	switch v := value.(type) {
	case nil:
	case string:
		stringSlice = append(stringSlice, v)
	case []string:
		stringSlice = append(stringSlice, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				stringSlice = append(stringSlice, s)
			} else if item != nil {
				stringSlice = append(stringSlice, fmt.Sprint(item))
			}
		}
	default:
		stringSlice = append(stringSlice, fmt.Sprint(v))
	}
	return stringSlice
}
