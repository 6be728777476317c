package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/watch"
)

func (fc *FeatureContext) iGatherFrom(plans, reference string) error {
	response, err := fc.apiDriver.GatherInfo(plans, reference, messageTimeout.String())
	if err != nil {
		return err
	}
	fc.keep(response)

	if response.StatusCode == http.StatusOK {
		fc.require.NoError(fc.decodeBody(response.Body, &fc.info))
	}
	return nil
}

func (fc *FeatureContext) deviceFromInfo(serial string) deviceResponse {
	for _, d := range fc.info.Devices {
		if d.Serial == fc.serial(serial).String() {
			return d
		}
	}
	fc.require.Failf("device missing", "no result for %s in %v", serial, fc.info.Devices)
	return deviceResponse{}
}

func (fc *FeatureContext) devicesShouldBeReturned(count int) error {
	fc.require.Len(fc.info.Devices, count)
	return nil
}

// valueOf renders a JSON string without its quotes and anything else as JSON.
func valueOf(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (fc *FeatureContext) deviceShouldHaveEqualTo(serial, label, expected string) error {
	d := fc.deviceFromInfo(serial)
	raw, ok := d.Info[label]
	fc.require.True(ok, "%s has no %q", serial, label)
	fc.require.Equal(expected, valueOf(raw))
	return nil
}

func (fc *FeatureContext) deviceShouldHaveCount(serial string, count int, label string) error {
	d := fc.deviceFromInfo(serial)

	var items []json.RawMessage
	fc.require.NoError(json.Unmarshal(d.Info[label], &items), "%s of %s is not a list", label, serial)
	fc.require.Len(items, count)
	return nil
}

func (fc *FeatureContext) deviceShouldBe(serial, status string) error {
	d := fc.deviceFromInfo(serial)
	fc.require.Equal(status == "complete", d.Complete)
	return nil
}

func (fc *FeatureContext) thereShouldBeNoErrors() error {
	fc.require.Empty(fc.info.Errors)
	return nil
}

func (fc *FeatureContext) thereShouldBeErrorsMentioning(count int, text string) error {
	fc.require.Len(fc.info.Errors, count)
	for _, e := range fc.info.Errors {
		fc.require.Contains(e, text)
	}
	return nil
}

func (fc *FeatureContext) theWatcherGathersFrom(plans, reference string) error {
	made, err := planner.MakePlans(planner.DefaultRegistry, strings.Split(plans, ","), nil)
	if err != nil {
		return err
	}
	ref, err := discovery.ParseReference(reference)
	if err != nil {
		return err
	}

	if fc.watcher == nil {
		schedule, err := watch.ParseSchedule("@every 1h")
		if err != nil {
			return err
		}
		fc.watcher = watch.NewWatcher(fc.gatherer, fc.broker, made, ref, schedule)
	}

	// a failed round still stores what it gathered
	_ = fc.watcher.Gather(context.Background())
	return nil
}

func (fc *FeatureContext) iAskForTheLatestResults() error {
	response, err := fc.apiDriver.ListLatest()
	if err != nil {
		return err
	}
	fc.keep(response)

	if response.StatusCode == http.StatusOK {
		fc.require.NoError(fc.decodeBody(response.Body, &fc.latest))
	}
	return nil
}

func (fc *FeatureContext) iAskForTheLatestResultsOf(serial string) error {
	response, err := fc.apiDriver.GetLatest(serial)
	if err != nil {
		return err
	}
	fc.keep(response)

	if response.StatusCode == http.StatusOK {
		fc.require.NoError(fc.decodeBody(response.Body, &fc.device))
	}
	return nil
}

func (fc *FeatureContext) theLatestRoundShouldBe(round int) error {
	fc.require.Equal(round, fc.latest.Round)
	return nil
}

func (fc *FeatureContext) theLatestResultsShouldListDevices(count int) error {
	fc.require.Len(fc.latest.Data, count)
	return nil
}

func (fc *FeatureContext) theLatestShouldBe(label, expected string) error {
	raw, ok := fc.device.Info[label]
	if !ok {
		return fmt.Errorf("latest result of %s has no %q", fc.device.Serial, label)
	}
	fc.require.Equal(expected, valueOf(raw))
	return nil
}
