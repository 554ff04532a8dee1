package domainfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(HostnameProvider),
	fx.Provide(LoadJobConfigs),
	fx.Provide(NewCron),
	fx.Provide(SchedulerMetrics),
	fx.Provide(BackupJobs),
	fx.Provide(SchedulerProvider),
	fx.Invoke(Dispatch),
)
