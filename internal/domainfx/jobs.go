package domainfx

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/xenbak/xenbakd/pkg/jobs"
)

const ConfigJobs = "jobs"

// Hostname is the name this daemon reports to monitoring and stamps
// into job stats.
type Hostname string

func HostnameProvider() (Hostname, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", errors.Wrap(err, "Unable to determine hostname")
	}

	return Hostname(hostname), nil
}

// LoadJobConfigs returns the enabled job configurations. Disabled jobs
// are skipped with a warning so a commented-out job is visible in the
// logs.
func LoadJobConfigs(v *viper.Viper, logger *logrus.Logger) ([]jobs.Config, error) {
	var configs []jobs.Config

	err := v.UnmarshalKey(ConfigJobs, &configs)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal jobs")
	}

	enabled := make([]jobs.Config, 0, len(configs))

	for _, config := range configs {
		if err := config.Validate(); err != nil {
			return nil, err
		}

		if !config.Enabled {
			logger.WithField("job", config.Name).Warn("Skipping disabled job")
			continue
		}

		enabled = append(enabled, config)
	}

	return enabled, nil
}
