package domainfx

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/xenbak/xenbakd/internal/configfx"
	"github.com/xenbak/xenbakd/pkg/scheduler"
	"github.com/xenbak/xenbakd/pkg/storage"
)

// Dispatch starts the requested mode: initialize storage backends,
// run named jobs once, or schedule everything and stay resident. The
// one-shot modes stop the application themselves, with a non-zero exit
// code on failure.
func Dispatch(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	flagSet *pflag.FlagSet,
	sched *scheduler.Scheduler,
	registry *storage.Registry,
	logger *logrus.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if initStorage, _ := flagSet.GetBool(configfx.FlagInitStorage); initStorage {
				go initializeStorages(shutdowner, registry, logger)
				return nil
			}

			if flagSet.Changed(configfx.FlagRun) {
				names, _ := flagSet.GetStringSlice(configfx.FlagRun)
				go runOnce(shutdowner, sched, logger, jobNames(names))
				return nil
			}

			return sched.Start()
		},
	})
}

func initializeStorages(shutdowner fx.Shutdowner, registry *storage.Registry, logger *logrus.Logger) {
	code := 0

	for _, backend := range registry.All() {
		if err := backend.Initialize(context.Background()); err != nil {
			logger.WithError(err).WithField("storage", backend.Name()).Error("Unable to initialize storage backend")
			code = 1
			continue
		}

		logger.WithField("storage", backend.Name()).Info("Initialized storage backend")
	}

	_ = shutdowner.Shutdown(fx.ExitCode(code))
}

func runOnce(shutdowner fx.Shutdowner, sched *scheduler.Scheduler, logger *logrus.Logger, names []string) {
	code := 0

	if err := sched.RunOnce(context.Background(), names); err != nil {
		logger.WithError(err).Error("One-shot run failed")
		code = 1
	}

	_ = shutdowner.Shutdown(fx.ExitCode(code))
}

func jobNames(names []string) []string {
	selected := names[:0]

	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			selected = append(selected, name)
		}
	}

	return selected
}
