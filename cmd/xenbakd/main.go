package main

import (
	"time"

	"go.uber.org/fx"

	"github.com/xenbak/xenbakd/internal/configfx"
	"github.com/xenbak/xenbakd/internal/domainfx"
	"github.com/xenbak/xenbakd/internal/loggerfx"
	"github.com/xenbak/xenbakd/internal/metricsfx"
	"github.com/xenbak/xenbakd/internal/monitoringfx"
	"github.com/xenbak/xenbakd/internal/sqlfx"
	"github.com/xenbak/xenbakd/internal/storagefx"
	"github.com/xenbak/xenbakd/internal/xenfx"
)

func main() {
	logger := loggerfx.Logger()

	app := fx.New(
		fx.StartTimeout(60*time.Second),
		fx.StopTimeout(15*time.Second),

		fx.Logger(logger),

		loggerfx.Module,
		configfx.Module,
		sqlfx.Module,
		xenfx.Module,
		storagefx.Module,
		monitoringfx.Module,
		metricsfx.Module,
		domainfx.Module,
	)

	app.Run()
}
