package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/xenbak/xenbakd/pkg/jobs"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard

	return logger
}

// region Test: Initialize and pings

func TestHealthchecksService_Lifecycle(t *testing.T) {
	var createBody createCheckRequest
	var pings []string
	var pingBodies []string

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/api/v3/checks/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&createBody))

		_ = json.NewEncoder(w).Encode(checkInfo{
			Name:    createBody.Name,
			Slug:    createBody.Slug,
			PingURL: server.URL + "/ping/uuid-1",
		})
	})

	mux.HandleFunc("/ping/", func(w http.ResponseWriter, r *http.Request) {
		// ping urls are pre-authenticated, the api key must not leak
		assert.Equal(t, "", r.Header.Get("X-Api-Key"))

		body, _ := io.ReadAll(r.Body)

		pings = append(pings, r.URL.Path)
		pingBodies = append(pingBodies, string(body))
	})

	service := NewHealthchecksService(discardLogger(), HealthchecksConfig{
		Enabled: true,
		Server:  server.URL,
		APIKey:  "test-key",
		Grace:   3600,
	})

	key := CheckKey{Job: "nightly", Host: "backup01"}

	err := service.Initialize(context.Background(), []CheckRegistration{
		{Key: key, Schedule: "0 0 2 * * *"},
	})
	assert.Nil(t, err)

	assert.Equal(t, "nightly_backup01", createBody.Name)
	assert.Equal(t, "nightly_backup01", createBody.Slug)
	assert.Equal(t, "backup01", createBody.Tags)
	assert.Equal(t, "0 2 * * *", createBody.Schedule)
	assert.Equal(t, 3600, createBody.Grace)
	assert.Equal(t, 86400, createBody.Timeout)
	assert.Equal(t, []string{"name"}, createBody.Unique)

	stats := jobs.Stats{JobName: "nightly", SuccessfulObjects: 2}

	assert.Nil(t, service.Start(context.Background(), key))
	assert.Nil(t, service.Success(context.Background(), key, stats))
	assert.Nil(t, service.Failure(context.Background(), key, stats))

	assert.Equal(t, []string{
		"/ping/uuid-1/start",
		"/ping/uuid-1",
		"/ping/uuid-1/fail",
	}, pings)

	assert.Equal(t, "", pingBodies[0])
	assert.Contains(t, pingBodies[1], `"job_name":"nightly"`)
	assert.Contains(t, pingBodies[2], `"successful_objects":2`)
}

func TestHealthchecksService_UnknownCheck(t *testing.T) {
	service := NewHealthchecksService(discardLogger(), HealthchecksConfig{Server: "http://localhost"})

	err := service.Start(context.Background(), CheckKey{Job: "nightly", Host: "backup01"})
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "nightly_backup01")
}

// endregion

// region Test: retries

func TestHealthchecksService_RetriesTransientFailures(t *testing.T) {
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++

		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		_ = json.NewEncoder(w).Encode(checkInfo{PingURL: "http://example.invalid/ping"})
	}))
	defer server.Close()

	service := NewHealthchecksService(discardLogger(), HealthchecksConfig{
		Server:     server.URL,
		APIKey:     "test-key",
		MaxRetries: 2,
	})

	err := service.Initialize(context.Background(), []CheckRegistration{
		{Key: CheckKey{Job: "nightly", Host: "backup01"}, Schedule: "0 0 2 * * *"},
	})
	assert.Nil(t, err)
	assert.Equal(t, 2, attempts)
}

func TestHealthchecksService_DoesNotRetryClientErrors(t *testing.T) {
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("wrong project key"))
	}))
	defer server.Close()

	service := NewHealthchecksService(discardLogger(), HealthchecksConfig{
		Server:     server.URL,
		APIKey:     "stale-key",
		MaxRetries: 5,
	})

	err := service.Initialize(context.Background(), []CheckRegistration{
		{Key: CheckKey{Job: "nightly", Host: "backup01"}, Schedule: "0 0 2 * * *"},
	})
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "wrong project key")
	assert.Equal(t, 1, attempts)
}

// endregion

// region Test: schedule rendering

func TestStripSecondsField(t *testing.T) {
	assert.Equal(t, "0 2 * * *", stripSecondsField("0 0 2 * * *"))
	assert.Equal(t, "*/15 * * * *", stripSecondsField("30 */15 * * * *"))

	// five-field schedules pass through untouched
	assert.Equal(t, "0 2 * * *", stripSecondsField("0 2 * * *"))
}

func TestCheckKey_Slug(t *testing.T) {
	assert.Equal(t, "nightly_backup01", CheckKey{Job: "nightly", Host: "backup01"}.Slug())
}

// endregion
