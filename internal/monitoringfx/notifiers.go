package monitoringfx

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/xenbak/xenbakd/internal/domainfx"
	"github.com/xenbak/xenbakd/pkg/jobs"
	"github.com/xenbak/xenbakd/pkg/monitoring"
)

const (
	ConfigMonitoringHealthchecks = "monitoring.healthchecks"
	ConfigMonitoringMail         = "monitoring.mail"
)

// initializeTimeout bounds check provisioning against the monitoring
// API during startup.
const initializeTimeout = 30 * time.Second

type MonitoringConfigs struct {
	Healthchecks monitoring.HealthchecksConfig
	Mail         monitoring.MailConfig
}

func LoadMonitoringConfigs(v *viper.Viper) (*MonitoringConfigs, error) {
	var configs MonitoringConfigs

	if err := v.UnmarshalKey(ConfigMonitoringHealthchecks, &configs.Healthchecks); err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal healthchecks config")
	}

	if err := v.UnmarshalKey(ConfigMonitoringMail, &configs.Mail); err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal mail config")
	}

	return &configs, nil
}

// Notifiers builds the enabled monitoring collaborators. A notifier
// that fails its own setup is dropped with a warning, the daemon still
// runs backups without it.
func Notifiers(
	logger *logrus.Logger,
	configs *MonitoringConfigs,
	jobConfigs []jobs.Config,
	hostname domainfx.Hostname,
) []monitoring.Notifier {
	var notifiers []monitoring.Notifier

	if configs.Healthchecks.Enabled {
		service := monitoring.NewHealthchecksService(logger, configs.Healthchecks)

		ctx, cancel := context.WithTimeout(context.Background(), initializeTimeout)
		defer cancel()

		registrations := checkRegistrations(jobConfigs, string(hostname))

		if err := service.Initialize(ctx, registrations); err != nil {
			logger.WithError(err).Warn("Unable to initialize healthchecks notifier, disabling it")
		} else {
			notifiers = append(notifiers, service)
		}
	}

	if configs.Mail.Enabled {
		service, err := monitoring.NewMailService(logger, configs.Mail)
		if err != nil {
			logger.WithError(err).Warn("Unable to initialize mail notifier, disabling it")
		} else {
			notifiers = append(notifiers, service)
		}
	}

	return notifiers
}

func checkRegistrations(jobConfigs []jobs.Config, hostname string) []monitoring.CheckRegistration {
	registrations := make([]monitoring.CheckRegistration, 0, len(jobConfigs))

	for _, config := range jobConfigs {
		registrations = append(registrations, monitoring.CheckRegistration{
			Key:      monitoring.CheckKey{Job: config.Name, Host: hostname},
			Schedule: config.Schedule,
		})
	}

	return registrations
}
