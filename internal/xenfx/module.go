package xenfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(LoadHostConfigs),
	fx.Provide(XenClients),
)
