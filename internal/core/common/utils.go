package common

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ParseJSON unmarshals the first JSON object embedded in an LLM response
// into T, tolerating surrounding markdown fences or prose.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return zero, errors.New("no JSON object found in response")
	}

	var result T
	if err := json.Unmarshal([]byte(response[start:end+1]), &result); err != nil {
		return zero, errors.Wrapf(err, "failed to unmarshal JSON: %s", response[start:end+1])
	}
	return result, nil
}
