package engine

import (
	"errors"
	"regexp"
	"strings"
)

var errNoJSON = errors.New("no JSON object in reply")

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func extractJSONBlocks(s string) []string {
	blocks := jsonFenceRe.FindAllStringSubmatch(s, -1)
	res := make([]string, 0, len(blocks))
	for _, m := range blocks {
		if len(m) > 1 {
			res = append(res, strings.TrimSpace(m[1]))
		}
	}
	return res
}

// extractJSON returns the first JSON object in a model reply: a fenced block
// if there is one, otherwise the outermost braces.
func extractJSON(s string) ([]byte, error) {
	for _, b := range extractJSONBlocks(s) {
		if strings.HasPrefix(b, "{") {
			return []byte(b), nil
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, errNoJSON
	}
	return []byte(s[start : end+1]), nil
}
