package validation

import "strings"

// Schema describes the rule keys recognised for a field type, grouped the way
// they appear in a field's validation object. Unknown types yield an empty
// map. The catalog is documentation for schema editors; Validate does not
// consult it. Document rules are listed under "file"; a field accepts them
// under that key or as "document".
func Schema(fieldType string) map[string]map[string]string {
	switch strings.ToLower(strings.TrimSpace(fieldType)) {
	case "text":
		return map[string]map[string]string{
			"string": {
				"min_length":    "Minimum character length",
				"max_length":    "Maximum character length",
				"pattern":       "Regular expression pattern",
				"pattern_error": "Custom error message for pattern mismatch",
				"format":        "Predefined format (email, phone, url)",
			},
			"number": {
				"min_value":          "Minimum numeric value",
				"max_value":          "Maximum numeric value",
				"integer_only":       "Allow only integers",
				"max_decimal_places": "Maximum decimal places",
			},
			"date": {
				"format":          "Date format string",
				"min_date":        "Minimum allowed date (yyyy-MM-dd)",
				"max_date":        "Maximum allowed date (yyyy-MM-dd)",
				"no_future_dates": "Disallow future dates",
				"no_past_dates":   "Disallow past dates",
			},
		}
	case "document":
		return map[string]map[string]string{
			"file": {
				"max_size_mb":        "Maximum file size in MB",
				"allowed_extensions": "List of allowed file extensions",
				"allowed_mime_types": "List of allowed MIME types",
			},
		}
	default:
		return map[string]map[string]string{}
	}
}
