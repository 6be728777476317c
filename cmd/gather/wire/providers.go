package wire

import (
	"fmt"
	"log/slog"

	"lumen-gatherer/cmd/config"
	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/httpapi"
	"lumen-gatherer/internal/infra/async"
	"lumen-gatherer/internal/infra/cache"
	"lumen-gatherer/internal/infra/mqtt"
	"lumen-gatherer/internal/infra/node"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"
	"lumen-gatherer/internal/transport/fake"
	"lumen-gatherer/internal/transport/mqttsender"
	"lumen-gatherer/internal/watch"

	"github.com/google/wire"
)

// App holds everything the daemon runs. The controllers and the watcher
// share one Gatherer, and so one Session.
type App struct {
	Gatherer *planner.Gatherer
	Watcher  *watch.Watcher
	Info     *httpapi.InfoController
	Latest   *httpapi.LatestController
}

// Link is the way devices are reached.
type Link struct {
	Sender     transport.Sender
	Discoverer transport.Discoverer
}

var GathererSet = wire.NewSet(
	provideAppConfig,
	provideFleet,
	provideLink,
	provideSender,
	provideDiscoverer,
	provideDiscoveryCache,
	provideFinder,
	wire.Bind(new(planner.DeviceFinder), new(*discovery.Finder)),
	provideGatherer,
)

func provideAppConfig() config.AppConfig {
	return config.LoadConfig()
}

func provideRegistry() *planner.Registry {
	return planner.DefaultRegistry
}

func provideFleet(cfg config.AppConfig) (*fake.Fleet, error) {
	specs := make([]fake.DeviceSpec, len(cfg.Fleet.Devices))
	for i, d := range cfg.Fleet.Devices {
		specs[i] = fake.DeviceSpec{
			Serial:   d.Serial,
			Label:    d.Label,
			Kind:     d.Kind,
			Zones:    d.Zones,
			Tiles:    d.Tiles,
			Firmware: d.Firmware,
		}
	}
	return fake.NewFleetFromSpecs(specs)
}

func provideMQTTClient(cfg config.AppConfig, role string) (*mqtt.SimpleClient, error) {
	clientID := cfg.MQTTClient.ClientID
	if clientID == "" {
		clientID = node.GetNodeInfo().ClientID(role)
	}
	return mqtt.NewSimpleClient(mqtt.SimpleClientOpts{
		Broker:   cfg.MQTTClient.Broker,
		ClientID: clientID,
		Username: cfg.MQTTClient.Username,
		Password: cfg.MQTTClient.Password, //pragma: allowlist secret
	})
}

func senderOptions(cfg config.AppConfig) mqttsender.Options {
	return mqttsender.Options{
		TopicPrefix:     cfg.MQTTClient.TopicPrefix,
		Source:          node.GetNodeInfo().Source(),
		DiscoveryWindow: cfg.MQTTClient.DiscoveryWindow,
	}
}

func provideLink(cfg config.AppConfig, fleet *fake.Fleet) (*Link, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		client, err := provideMQTTClient(cfg, "sender")
		if err != nil {
			return nil, nil, err
		}
		sender, err := mqttsender.New(client, senderOptions(cfg))
		if err != nil {
			client.Disconnect()
			return nil, nil, err
		}
		cleanup := func() {
			if err := sender.Close(); err != nil {
				slog.Warn("closing mqtt sender", slog.Any("error", err))
			}
			client.Disconnect()
		}
		return &Link{Sender: sender, Discoverer: sender}, cleanup, nil

	case config.TransportFake:
		slog.Info("using the virtual fleet", slog.Int("devices", len(cfg.Fleet.Devices)))
		return &Link{Sender: fleet, Discoverer: fleet}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}

func provideSender(link *Link) transport.Sender {
	return link.Sender
}

func provideDiscoverer(link *Link) transport.Discoverer {
	return link.Discoverer
}

func provideDiscoveryCache() (cache.Cache[[]protocol.Serial], func(), error) {
	store, err := cache.New[[]protocol.Serial](cache.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func provideFinder(discoverer transport.Discoverer, store cache.Cache[[]protocol.Serial], cfg config.AppConfig) *discovery.Finder {
	return discovery.NewFinder(discoverer, store, cfg.Gatherer.DiscoveryTTL)
}

func provideGatherer(sender transport.Sender, finder planner.DeviceFinder, cfg config.AppConfig) *planner.Gatherer {
	return planner.NewGatherer(sender, finder, planner.SystemClock,
		planner.WithMessageTimeout(cfg.Gatherer.MessageTimeout),
		planner.WithFindTimeout(cfg.Gatherer.FindTimeout),
		planner.WithLimit(cfg.Gatherer.Limit),
	)
}

func provideWatcher(gatherer *planner.Gatherer, broker async.InternalBroker, registry *planner.Registry, cfg config.AppConfig) (*watch.Watcher, error) {
	plans, err := planner.MakePlans(registry, cfg.Gatherer.Plans, nil)
	if err != nil {
		return nil, err
	}
	ref, err := discovery.ParseReference(cfg.Gatherer.Reference)
	if err != nil {
		return nil, err
	}
	schedule, err := watch.ParseSchedule(cfg.Gatherer.Schedule)
	if err != nil {
		return nil, err
	}
	return watch.NewWatcher(gatherer, broker, plans, ref, schedule), nil
}

func provideResponder(cfg config.AppConfig, fleet *fake.Fleet) (*mqttsender.Responder, func(), error) {
	client, err := provideMQTTClient(cfg, "responder")
	if err != nil {
		return nil, nil, err
	}
	return mqttsender.NewResponder(client, fleet, fleet, senderOptions(cfg)), client.Disconnect, nil
}
