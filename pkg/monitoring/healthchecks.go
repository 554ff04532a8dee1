package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/jobs"
)

// checkPeriod is the fallback period reported to healthchecks.io, the
// cron schedule drives the real ping expectation.
const checkPeriod = 86400

type HealthchecksConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Server     string `mapstructure:"server"`
	APIKey     string `mapstructure:"api_key"`
	Grace      int    `mapstructure:"grace"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// CheckRegistration binds a check key to the cron schedule it reports.
type CheckRegistration struct {
	Key      CheckKey
	Schedule string
}

type createCheckRequest struct {
	Name     string   `json:"name"`
	Slug     string   `json:"slug"`
	Tags     string   `json:"tags"`
	Schedule string   `json:"schedule"`
	Grace    int      `json:"grace"`
	Timeout  int      `json:"timeout"`
	Unique   []string `json:"unique"`
}

type checkInfo struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	PingURL string `json:"ping_url"`
}

// HealthchecksService pings healthchecks.io checks around job runs.
// Initialize provisions one check per registration before the
// scheduler starts, afterwards the check map is read-only.
type HealthchecksService struct {
	logger logrus.FieldLogger
	config HealthchecksConfig
	client *http.Client
	checks map[CheckKey]checkInfo
}

func NewHealthchecksService(logger logrus.FieldLogger, config HealthchecksConfig) *HealthchecksService {
	return &HealthchecksService{
		logger: logger.WithField("notifier", "healthchecks"),
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		checks: make(map[CheckKey]checkInfo),
	}
}

func (s *HealthchecksService) Name() string {
	return "healthchecks"
}

// Initialize creates one check per registration. The unique constraint
// on the name makes the API update an existing check instead of
// creating a duplicate, so provisioning is idempotent across restarts.
func (s *HealthchecksService) Initialize(ctx context.Context, registrations []CheckRegistration) error {
	for _, registration := range registrations {
		check, err := s.createCheck(ctx, registration)
		if err != nil {
			return errors.Wrapf(err, "unable to provision check %q", registration.Key.Slug())
		}

		s.checks[registration.Key] = check

		s.logger.WithField("check", check.Slug).Debug("Provisioned check")
	}

	return nil
}

func (s *HealthchecksService) createCheck(ctx context.Context, registration CheckRegistration) (checkInfo, error) {
	request := createCheckRequest{
		Name:     registration.Key.Slug(),
		Slug:     registration.Key.Slug(),
		Tags:     registration.Key.Host,
		Schedule: stripSecondsField(registration.Schedule),
		Grace:    s.config.Grace,
		Timeout:  checkPeriod,
		Unique:   []string{"name"},
	}

	body, err := json.Marshal(request)
	if err != nil {
		return checkInfo{}, errors.Wrap(err, "unable to encode check request")
	}

	var check checkInfo

	if err := s.post(ctx, s.config.Server+"/api/v3/checks/", s.config.APIKey, body, &check); err != nil {
		return checkInfo{}, err
	}

	return check, nil
}

func (s *HealthchecksService) Start(ctx context.Context, key CheckKey) error {
	check, err := s.check(key)
	if err != nil {
		return err
	}

	return s.post(ctx, check.PingURL+"/start", "", nil, nil)
}

func (s *HealthchecksService) Success(ctx context.Context, key CheckKey, stats jobs.Stats) error {
	check, err := s.check(key)
	if err != nil {
		return err
	}

	body, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "unable to encode stats")
	}

	return s.post(ctx, check.PingURL, "", body, nil)
}

func (s *HealthchecksService) Failure(ctx context.Context, key CheckKey, stats jobs.Stats) error {
	check, err := s.check(key)
	if err != nil {
		return err
	}

	body, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "unable to encode stats")
	}

	return s.post(ctx, check.PingURL+"/fail", "", body, nil)
}

func (s *HealthchecksService) check(key CheckKey) (checkInfo, error) {
	check, ok := s.checks[key]
	if !ok {
		return checkInfo{}, errors.Errorf("no check provisioned for %q", key.Slug())
	}

	return check, nil
}

// post sends a JSON body and retries transient failures. A 4xx
// response is permanent, the request will not become valid by
// retrying it.
func (s *HealthchecksService) post(ctx context.Context, url, apiKey string, body []byte, result interface{}) error {
	operation := func() error {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}

		if apiKey != "" {
			request.Header.Set("X-Api-Key", apiKey)
		}

		if len(body) > 0 {
			request.Header.Set("Content-Type", "application/json")
		}

		response, err := s.client.Do(request)
		if err != nil {
			return err
		}
		defer response.Body.Close()

		if response.StatusCode >= 500 {
			return errors.Errorf("healthchecks responded with %s", response.Status)
		}

		if response.StatusCode >= 400 {
			payload, _ := io.ReadAll(response.Body)

			return backoff.Permanent(errors.Errorf("healthchecks responded with %s: %s", response.Status, bytes.TrimSpace(payload)))
		}

		if result != nil {
			if err := json.NewDecoder(response.Body).Decode(result); err != nil {
				return backoff.Permanent(errors.Wrap(err, "unable to decode response"))
			}
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.config.MaxRetries)),
		ctx,
	)

	return backoff.Retry(operation, policy)
}

// stripSecondsField converts the engine's 6-field cron expression into
// the 5-field form healthchecks.io expects.
func stripSecondsField(schedule string) string {
	fields := strings.Fields(schedule)
	if len(fields) == 6 {
		fields = fields[1:]
	}

	return strings.Join(fields, " ")
}
