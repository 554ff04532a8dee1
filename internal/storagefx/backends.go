package storagefx

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/xenbak/xenbakd/pkg/storage"
)

const (
	ConfigStorageLocal = "storage.local"
	ConfigStorageBorg  = "storage.borg"
)

type StorageConfigs struct {
	Local []storage.LocalConfig
	Borg  []storage.BorgConfig
}

func LoadStorageConfigs(v *viper.Viper) (*StorageConfigs, error) {
	var configs StorageConfigs

	if err := v.UnmarshalKey(ConfigStorageLocal, &configs.Local); err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal local storages")
	}

	if err := v.UnmarshalKey(ConfigStorageBorg, &configs.Borg); err != nil {
		return nil, errors.Wrap(err, "Unable to unmarshal borg storages")
	}

	for _, config := range configs.Local {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	for _, config := range configs.Borg {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	return &configs, nil
}

func StorageRegistry(logger *logrus.Logger, configs *StorageConfigs) (*storage.Registry, error) {
	var backends []storage.Backend

	for _, config := range configs.Local {
		if !config.Enabled {
			logger.WithField("storage", config.Name).Debug("Skipping disabled storage")
			continue
		}

		backends = append(backends, storage.NewLocalBackend(logger, config))
	}

	for _, config := range configs.Borg {
		if !config.Enabled {
			logger.WithField("storage", config.Name).Debug("Skipping disabled storage")
			continue
		}

		backends = append(backends, storage.NewBorgBackend(logger, config))
	}

	return storage.NewRegistry(backends...)
}
