package steps

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/httpapi"
	"lumen-gatherer/internal/infra/async"
	"lumen-gatherer/internal/infra/httpserver"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport/fake"
	"lumen-gatherer/internal/watch"
	"lumen-gatherer/test/functional/driver"

	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

const messageTimeout = 100 * time.Millisecond

type infoResponse struct {
	Devices []deviceResponse `json:"devices"`
	Errors  []string         `json:"errors"`
}

type deviceResponse struct {
	Serial   string                     `json:"serial"`
	Complete bool                       `json:"complete"`
	Info     map[string]json.RawMessage `json:"info"`
}

type latestResponse struct {
	Round int              `json:"round"`
	Data  []deviceResponse `json:"data"`
}

// FeatureContext runs the API in process, in front of a virtual fleet
// rebuilt for every scenario.
type FeatureContext struct {
	apiDriver *driver.APIDriver
	server    *httptest.Server
	fleet     *fake.Fleet
	gatherer  *planner.Gatherer
	broker    *async.LocalBroker
	watcher   *watch.Watcher

	response *http.Response
	info     infoResponse
	latest   latestResponse
	device   deviceResponse
	require  *require.Assertions
	t        godog.TestingT
}

func NewFeatureContext() *FeatureContext {
	return &FeatureContext{}
}

func (fc *FeatureContext) RegisterSteps(ctx *godog.ScenarioContext) {
	// Generic steps
	ctx.Step(`^wait for (.*)$`, fc.waitForDuration)
	ctx.Then(`^the response status code should be (\d+)$`, fc.theResponseStatusCodeShouldBe)
	ctx.When(`^I call the health check$`, fc.iCallTheHealthCheck)
	ctx.When(`^I list the plans$`, fc.iListThePlans)
	ctx.Then(`^the plans should include "([^"]*)"$`, fc.thePlansShouldInclude)

	// Fleet steps
	ctx.Given(`^a bulb "([^"]*)" labelled "([^"]*)"$`, fc.aBulbLabelled)
	ctx.Given(`^a strip "([^"]*)" labelled "([^"]*)" with (\d+) zones$`, fc.aStripLabelledWithZones)
	ctx.Given(`^a tile chain "([^"]*)" labelled "([^"]*)" with (\d+) tiles$`, fc.aTileChainLabelledWithTiles)
	ctx.Given(`^device "([^"]*)" ignores "([^"]*)"$`, fc.deviceIgnores)
	ctx.Given(`^device "([^"]*)" is offline$`, fc.deviceIsOffline)
	ctx.Given(`^device "([^"]*)" is relabelled "([^"]*)"$`, fc.deviceIsRelabelled)
	ctx.Given(`^the cache is cleared$`, fc.theCacheIsCleared)

	// Gathering steps
	ctx.When(`^I gather "([^"]*)" from "([^"]*)"$`, fc.iGatherFrom)
	ctx.Then(`^(\d+) devices? should be returned$`, fc.devicesShouldBeReturned)
	ctx.Then(`^device "([^"]*)" should have "([^"]*)" equal to "([^"]*)"$`, fc.deviceShouldHaveEqualTo)
	ctx.Then(`^device "([^"]*)" should have (\d+) "([^"]*)"$`, fc.deviceShouldHaveCount)
	ctx.Then(`^device "([^"]*)" should be (complete|incomplete)$`, fc.deviceShouldBe)
	ctx.Then(`^there should be no errors$`, fc.thereShouldBeNoErrors)
	ctx.Then(`^there should be (\d+) errors? mentioning "([^"]*)"$`, fc.thereShouldBeErrorsMentioning)
	ctx.Then(`^"([^"]*)" should have been sent to "([^"]*)" (\d+) times?$`, fc.shouldHaveBeenSentTimes)

	// Watch steps
	ctx.When(`^the watcher gathers "([^"]*)" from "([^"]*)"$`, fc.theWatcherGathersFrom)
	ctx.When(`^I ask for the latest results$`, fc.iAskForTheLatestResults)
	ctx.When(`^I ask for the latest results of "([^"]*)"$`, fc.iAskForTheLatestResultsOf)
	ctx.Then(`^the latest round should be (\d+)$`, fc.theLatestRoundShouldBe)
	ctx.Then(`^the latest results should list (\d+) devices?$`, fc.theLatestResultsShouldListDevices)
	ctx.Then(`^the latest "([^"]*)" should be "([^"]*)"$`, fc.theLatestShouldBe)

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		fc.t = godog.T(ctx)
		fc.require = require.New(fc.t)
		fc.setUp()
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		fc.tearDown()
		return ctx, nil
	})
}

func (fc *FeatureContext) setUp() {
	fc.fleet = fake.NewFleet()
	fc.broker = async.NewLocalBroker()
	fc.watcher = nil
	fc.gatherer = planner.NewGatherer(fc.fleet, discovery.NewFinder(fc.fleet, nil, 0), nil,
		planner.WithMessageTimeout(messageTimeout),
		planner.WithFindTimeout(messageTimeout),
	)

	server := httpserver.NewServer(httpserver.Options{},
		httpapi.NewInfoController(fc.gatherer, planner.DefaultRegistry),
		httpapi.NewLatestController(fc),
	)
	fc.server = httptest.NewServer(server.Handler())
	fc.apiDriver = driver.NewAPIDriver(fc.server.URL)

	fc.response = nil
	fc.info = infoResponse{}
	fc.latest = latestResponse{}
	fc.device = deviceResponse{}
}

func (fc *FeatureContext) tearDown() {
	if fc.response != nil {
		fc.response.Body.Close()
	}
	fc.server.Close()
	fc.broker.Stop()
}

// Latest and Device let the scenario swap watchers behind one server.
func (fc *FeatureContext) Latest() watch.Snapshot {
	if fc.watcher == nil {
		return watch.Snapshot{}
	}
	return fc.watcher.Latest()
}

func (fc *FeatureContext) Device(serial protocol.Serial) (planner.DeviceResult, bool) {
	if fc.watcher == nil {
		return planner.DeviceResult{}, false
	}
	return fc.watcher.Device(serial)
}

func (fc *FeatureContext) keep(response *http.Response) {
	if fc.response != nil {
		fc.response.Body.Close()
	}
	fc.response = response
}

func (fc *FeatureContext) decodeBody(body io.ReadCloser, target any) error {
	return json.NewDecoder(body).Decode(target)
}

func (fc *FeatureContext) serial(value string) protocol.Serial {
	serial, err := protocol.ParseSerial(value)
	fc.require.NoError(err)
	return serial
}
