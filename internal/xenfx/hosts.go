package xenfx

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/xenbak/xenbakd/pkg/xapi"
)

const ConfigHosts = "hosts"

func LoadHostConfigs(v *viper.Viper) ([]xapi.Config, error) {
	var configs []xapi.Config

	err := v.UnmarshalKey(ConfigHosts, &configs)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal hosts")
	}

	for _, config := range configs {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	return configs, nil
}

func XenClients(logger *logrus.Logger, configs []xapi.Config) ([]*xapi.Client, error) {
	clients := make([]*xapi.Client, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))

	for _, config := range configs {
		if _, ok := seen[config.Name]; ok {
			return nil, errors.Errorf("duplicate host %q", config.Name)
		}

		seen[config.Name] = struct{}{}

		clients = append(clients, xapi.NewClient(logger, config))
	}

	return clients, nil
}
