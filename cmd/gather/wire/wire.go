//go:build wireinject
// +build wireinject

package wire

import (
	"lumen-gatherer/internal/httpapi"
	"lumen-gatherer/internal/infra/async"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/transport/mqttsender"
	"lumen-gatherer/internal/watch"

	"github.com/google/wire"
)

func InitializeGatherer() (*planner.Gatherer, func(), error) {
	wire.Build(GathererSet)
	return nil, nil, nil
}

func InitializeApp(broker async.InternalBroker) (*App, func(), error) {
	wire.Build(
		GathererSet,
		provideRegistry,
		provideWatcher,
		wire.Bind(new(httpapi.InfoGatherer), new(*planner.Gatherer)),
		wire.Bind(new(httpapi.Snapshots), new(*watch.Watcher)),
		httpapi.NewInfoController,
		httpapi.NewLatestController,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

func InitializeResponder() (*mqttsender.Responder, func(), error) {
	wire.Build(
		provideAppConfig,
		provideFleet,
		provideResponder,
	)
	return nil, nil, nil
}
