package domainfx

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/jobs"
	"github.com/xenbak/xenbakd/pkg/monitoring"
	"github.com/xenbak/xenbakd/pkg/scheduler"
	"github.com/xenbak/xenbakd/pkg/storage"
	"github.com/xenbak/xenbakd/pkg/xapi"
)

func NewCron() *cron.Cron {
	return cron.New()
}

func SchedulerMetrics(registerer prometheus.Registerer) *scheduler.Metrics {
	return scheduler.NewMetrics(registerer)
}

func BackupJobs(
	logger *logrus.Logger,
	configs []jobs.Config,
	clients []*xapi.Client,
	registry *storage.Registry,
	hostname Hostname,
) ([]scheduler.Job, error) {
	clientsByHost := make(map[string]*xapi.Client, len(clients))
	for _, client := range clients {
		clientsByHost[client.Host()] = client
	}

	scheduled := make([]scheduler.Job, 0, len(configs))

	for _, config := range configs {
		jobClients := make([]jobs.XenClient, 0, len(config.Hosts))

		for _, host := range config.Hosts {
			client, ok := clientsByHost[host]
			if !ok {
				return nil, errors.Errorf("job %q references unknown host %q", config.Name, host)
			}

			jobClients = append(jobClients, client)
		}

		// resolving storage names here surfaces configuration mistakes
		// at startup instead of on the first scheduled run
		if _, err := registry.Resolve(config.Storages); err != nil {
			return nil, errors.Wrapf(err, "job %q", config.Name)
		}

		scheduled = append(scheduled, jobs.NewVmBackupJob(logger, config, string(hostname), jobClients, registry))
	}

	return scheduled, nil
}

func SchedulerProvider(
	logger *logrus.Logger,
	scheduled []scheduler.Job,
	cron *cron.Cron,
	recorder scheduler.RunRecorder,
	notifiers []monitoring.Notifier,
	metrics *scheduler.Metrics,
	hostname Hostname,
) (*scheduler.Scheduler, error) {
	return scheduler.New(logger, scheduled, cron, recorder, notifiers, metrics, string(hostname))
}
