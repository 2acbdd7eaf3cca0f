package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformedSettings is returned when the settings response cannot be
// turned into Credentials.
var ErrMalformedSettings = errors.New("malformed gateway settings")

// Credentials identify the gateway dataset events are delivered to. A value
// is never modified after construction.
type Credentials struct {
	AccessKey string
	Endpoint  string
	DatasetID string
}

// EventsURL returns {Endpoint}/capi/{DatasetID}/events.
func (c Credentials) EventsURL() (string, error) {
	if c.Endpoint == "" || c.DatasetID == "" {
		return "", fmt.Errorf("%w: endpoint and dataset_id are required", ErrMalformedSettings)
	}
	raw := strings.TrimRight(c.Endpoint, "/") + "/capi/" + url.PathEscape(c.DatasetID) + "/events"
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse events url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: events url %q is not absolute", ErrMalformedSettings, raw)
	}
	return u.String(), nil
}

type settingsResponse struct {
	Data []settingsEntry `json:"data"`
}

type settingsEntry struct {
	Endpoint  string          `json:"endpoint"`
	DatasetID string          `json:"dataset_id"`
	AccessKey string          `json:"access_key"`
	IsEnabled json.RawMessage `json:"is_enabled"`
}

// parseSettings reads the first element of the settings response.
func parseSettings(body []byte) (Credentials, bool, error) {
	var resp settingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Credentials{}, false, fmt.Errorf("%w: %v", ErrMalformedSettings, err)
	}
	if len(resp.Data) == 0 {
		return Credentials{}, false, fmt.Errorf("%w: empty data", ErrMalformedSettings)
	}

	entry := resp.Data[0]
	if entry.Endpoint == "" || entry.DatasetID == "" || entry.AccessKey == "" {
		return Credentials{}, false, fmt.Errorf("%w: missing endpoint, dataset_id or access_key", ErrMalformedSettings)
	}
	enabled, err := parseEnabled(entry.IsEnabled)
	if err != nil {
		return Credentials{}, false, err
	}

	return Credentials{
		AccessKey: entry.AccessKey,
		Endpoint:  entry.Endpoint,
		DatasetID: entry.DatasetID,
	}, enabled, nil
}

// parseEnabled accepts a JSON bool or a number, nonzero meaning enabled.
func parseEnabled(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, fmt.Errorf("%w: missing is_enabled", ErrMalformedSettings)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return false, fmt.Errorf("%w: is_enabled %s", ErrMalformedSettings, raw)
	}
	return f != 0, nil
}
