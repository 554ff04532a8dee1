package monitoringfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(LoadMonitoringConfigs),
	fx.Provide(Notifiers),
)
