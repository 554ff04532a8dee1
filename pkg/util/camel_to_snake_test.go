package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCamelToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Id":                "id",
		"RunId":             "run_id",
		"RunID":             "run_id",
		"JobName":           "job_name",
		"TotalObjects":      "total_objects",
		"SuccessfulObjects": "successful_objects",
		"DurationSeconds":   "duration_seconds",
		"HTTPServer":        "http_server",
		"StartedAt":         "started_at",
		"already_snake":     "already_snake",
		"x":                 "x",
	}

	for input, expected := range cases {
		assert.Equal(t, expected, CamelToSnakeCase(input), "input: %s", input)
	}
}
