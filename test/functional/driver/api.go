package driver

import (
	"fmt"
	"net/http"
	"net/url"
)

type APIDriver struct {
	baseURL string
	client  *http.Client
}

func NewAPIDriver(baseURL string) *APIDriver {
	return &APIDriver{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (d *APIDriver) GetHealthz() (*http.Response, error) {
	return d.client.Get(fmt.Sprintf("%s/healthz", d.baseURL))
}

func (d *APIDriver) ListPlans() (*http.Response, error) {
	return d.client.Get(fmt.Sprintf("%s/v1/plans", d.baseURL))
}

func (d *APIDriver) GatherInfo(plans, reference, timeout string) (*http.Response, error) {
	query := url.Values{}
	query.Set("plans", plans)
	if reference != "" {
		query.Set("reference", reference)
	}
	if timeout != "" {
		query.Set("timeout", timeout)
	}
	return d.client.Get(fmt.Sprintf("%s/v1/devices/info?%s", d.baseURL, query.Encode()))
}

func (d *APIDriver) ListLatest() (*http.Response, error) {
	return d.client.Get(fmt.Sprintf("%s/v1/devices/latest", d.baseURL))
}

func (d *APIDriver) GetLatest(serial string) (*http.Response, error) {
	return d.client.Get(fmt.Sprintf("%s/v1/devices/%s/latest", d.baseURL, serial))
}
