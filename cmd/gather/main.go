package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"lumen-gatherer/cmd/config"
	"lumen-gatherer/cmd/gather/wire"
	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/infra/async"
	"lumen-gatherer/internal/infra/httpserver"
	"lumen-gatherer/internal/infra/node"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/watch"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	modeOnce  = "once"
	modeWatch = "watch"
	modeServe = "serve"

	outputJSON = "json"
	outputText = "text"
)

var (
	logLevelMapping = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

func main() {
	flags := pflag.NewFlagSet("gather", pflag.ExitOnError)
	mode := flags.String("mode", modeOnce, "once: gather and exit, watch: gather on a schedule and serve the API, serve: answer for the virtual fleet over MQTT")
	output := flags.String("output", outputText, "output of once mode: text or json")
	flags.StringSlice("plans", nil, "plans to gather, e.g. label,power,zones")
	flags.String("reference", "", `devices to gather from: "_" for every device or a comma separated list of serials`)
	flags.String("schedule", "", "cron schedule of watch mode, e.g. \"@every 30s\"")
	flags.String("transport", "", "fake or mqtt")
	_ = flags.Parse(os.Args[1:])

	bindFlag(flags, "gatherer.plans", "plans")
	bindFlag(flags, "gatherer.reference", "reference")
	bindFlag(flags, "gatherer.schedule", "schedule")
	bindFlag(flags, "transport.kind", "transport")

	config := config.LoadConfig()

	level := logLevelMapping[config.General.LogLevel]
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{AddSource: true, Level: level, ReplaceAttr: slogReplaceAttr})
	handler := baseHandler.WithAttrs([]slog.Attr{slog.String("version", node.Version)})
	slog.SetDefault(slog.New(handler))
	slog.Debug("config loaded", "data", config)

	shutdownOtel := startOTel(config.Otel)
	defer func() {
		if err := shutdownOtel(); err != nil {
			slog.Error("shutting down OTel", slog.Any("error", err))
		}
	}()

	var err error
	switch *mode {
	case modeOnce:
		err = runOnce(config, *output, os.Stdout)
	case modeWatch:
		err = runWatch()
	case modeServe:
		err = runServe()
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	if err != nil {
		slog.Error("gather failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func bindFlag(flags *pflag.FlagSet, key, name string) {
	if flags.Changed(name) {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// runOnce gathers a single time and prints every device as soon as it is
// complete.
func runOnce(cfg config.AppConfig, output string, w io.Writer) error {
	gatherer, cleanup, err := wire.InitializeGatherer()
	if err != nil {
		return err
	}
	defer cleanup()

	plans, err := planner.MakePlans(planner.DefaultRegistry, cfg.Gatherer.Plans, nil)
	if err != nil {
		return err
	}
	ref, err := discovery.ParseReference(cfg.Gatherer.Reference)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emit := printer(output, w)
	stream := gatherer.GatherPerSerial(ctx, plans, ref)
	for res := range stream.C() {
		if err := emit(res); err != nil {
			return err
		}
	}
	return stream.Err()
}

func printer(output string, w io.Writer) func(planner.DeviceResult) error {
	if output == outputJSON {
		encoder := json.NewEncoder(w)
		return func(res planner.DeviceResult) error {
			return encoder.Encode(res)
		}
	}

	return func(res planner.DeviceResult) error {
		labels := make([]string, 0, len(res.Info))
		for label := range res.Info {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		status := "complete"
		if !res.Complete {
			status = "incomplete"
		}
		if _, err := fmt.Fprintf(w, "%s (%s)\n", res.Serial, status); err != nil {
			return err
		}
		for _, label := range labels {
			if _, err := fmt.Fprintf(w, "  %s: %s\n", label, res.Info[label]); err != nil {
				return err
			}
		}
		return nil
	}
}

// runWatch gathers on the configured schedule and serves the API until
// interrupted.
func runWatch() error {
	internalBroker := async.NewLocalBroker()
	defer internalBroker.Stop()

	app, cleanup, err := wire.InitializeApp(internalBroker)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := config.LoadConfig()
	httpServer := httpserver.NewServer(
		httpserver.Options{Address: cfg.HTTP.Address, AllowedOrigins: cfg.HTTP.AllowedOrigins},
		app.Info,
		app.Latest,
	)
	go httpServer.Run()

	subscription, err := internalBroker.Subscribe(watch.DeviceResultsTopic)
	if err != nil {
		return err
	}
	go logResults(subscription)

	appCtx, cancelFn := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go app.Watcher.Run(appCtx, wg.Done)

	waitForSignal()

	httpServer.Shutdown()
	cancelFn()
	wg.Wait()
	slog.Info("good bye!!!")
	return nil
}

func logResults(subscription async.Subscription) {
	for msg := range subscription.Receiver {
		switch msg.Event {
		case watch.EventDeviceGathered:
			res, ok := msg.Value.(planner.DeviceResult)
			if !ok {
				continue
			}
			slog.Debug("device gathered",
				slog.String("serial", res.Serial.String()),
				slog.Bool("complete", res.Complete),
				slog.Int("labels", len(res.Info)),
			)
		case watch.EventRoundFailed:
			var bad *planner.RunErrors
			if errors.As(msg.Error, &bad) {
				slog.Debug("round errors", slog.Int("count", len(bad.Errors)))
			}
		}
	}
}

// runServe makes the virtual fleet reachable over MQTT.
func runServe() error {
	responder, cleanup, err := wire.InitializeResponder()
	if err != nil {
		return err
	}
	defer cleanup()

	appCtx, cancelFn := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go responder.Run(appCtx, wg.Done)

	waitForSignal()

	cancelFn()
	wg.Wait()
	slog.Info("good bye!!!")
	return nil
}

func waitForSignal() {
	signalChannel := make(chan os.Signal, 2)
	signal.Notify(signalChannel, os.Interrupt, syscall.SIGTERM)
	<-signalChannel
}

func slogReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
		return slog.Any(a.Key, source)
	}
	return a
}
