// Package credentials stores Sauce Labs accounts. Metadata lives in sqlite,
// access keys live in a keyring.
package credentials

import (
	"context"
	"errors"
	"sort"
	"strings"
)

const DefaultRestEndpoint = "https://saucelabs.com/"

var ErrNotFound = errors.New("credentials not found")

var dataCenters = map[string]string{
	"us-west-1":        "https://saucelabs.com/",
	"us-east-4":        "https://us-east-4.saucelabs.com/",
	"eu-central-1":     "https://eu-central-1.saucelabs.com/",
	"apac-southeast-1": "https://api.apac-southeast-1.saucelabs.com/",
}

type Credentials struct {
	ID           string
	Username     string
	AccessKey    string
	DataCenter   string
	RestEndpoint string
	Description  string
}

// Endpoint resolves the REST endpoint: an explicit endpoint wins, then the
// data center, then the default. The result always ends with "/".
func (c *Credentials) Endpoint() string {
	endpoint := strings.TrimSpace(c.RestEndpoint)
	if endpoint == "" {
		endpoint = RestEndpointForDataCenter(c.DataCenter)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint
}

// RestEndpointForDataCenter maps a data center name to its REST endpoint.
// Unknown or empty names resolve to the default endpoint.
func RestEndpointForDataCenter(dc string) string {
	if endpoint, ok := dataCenters[strings.ToLower(strings.TrimSpace(dc))]; ok {
		return endpoint
	}
	return DefaultRestEndpoint
}

func DataCenters() []string {
	names := make([]string, 0, len(dataCenters))
	for name := range dataCenters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsDataCenter(dc string) bool {
	_, ok := dataCenters[dc]
	return ok
}

// Provider resolves credentials by id and records where they were used.
type Provider interface {
	Lookup(ctx context.Context, id string) (*Credentials, error)
	Track(ctx context.Context, id, run string) error
}
