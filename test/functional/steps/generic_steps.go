package steps

import (
	"net/http"
	"time"
)

func (fc *FeatureContext) waitForDuration(duration string) error {
	d, err := time.ParseDuration(duration)
	if err != nil {
		return err
	}
	time.Sleep(d)
	return nil
}

func (fc *FeatureContext) theResponseStatusCodeShouldBe(code int) error {
	fc.require.Equal(code, fc.response.StatusCode, "Unexpected status code")
	return nil
}

func (fc *FeatureContext) iCallTheHealthCheck() error {
	response, err := fc.apiDriver.GetHealthz()
	if err != nil {
		return err
	}
	fc.keep(response)
	return nil
}

func (fc *FeatureContext) iListThePlans() error {
	response, err := fc.apiDriver.ListPlans()
	if err != nil {
		return err
	}
	fc.keep(response)
	return nil
}

func (fc *FeatureContext) thePlansShouldInclude(label string) error {
	fc.require.Equal(http.StatusOK, fc.response.StatusCode)

	var data map[string][]string
	fc.require.NoError(fc.decodeBody(fc.response.Body, &data))
	fc.require.Contains(data["plans"], label)
	return nil
}
