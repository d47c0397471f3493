package scenario

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Measure extracts a named number from a JSON response body.
type Measure struct {
	Name string
	// Path is a gjson path. A leading "$." is accepted and a bare "$"
	// selects the whole document.
	Path string
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "$") {
		switch {
		case path == "$":
			return "@this"
		case strings.HasPrefix(path, "$."):
			return path[2:]
		}
	}
	return path
}

// extract returns the numeric value at path. Numbers, numeric strings and
// booleans (as 1 or 0) count; anything else reports false.
func extract(body []byte, path string) (float64, bool) {
	res := gjson.GetBytes(body, normalizePath(path))
	switch res.Type {
	case gjson.Number:
		return res.Float(), true
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
		return v, err == nil
	default:
		return 0, false
	}
}

// extractAll adds every measure found in body to out and returns the names
// of the ones that were missing or not numeric.
func extractAll(body []byte, measures []Measure, out map[string]float64) []string {
	var missing []string
	if len(measures) == 0 {
		return nil
	}
	if !gjson.ValidBytes(body) {
		for _, m := range measures {
			missing = append(missing, m.Name)
		}
		return missing
	}
	for _, m := range measures {
		if v, ok := extract(body, m.Path); ok {
			out[m.Name] = v
		} else {
			missing = append(missing, m.Name)
		}
	}
	return missing
}
