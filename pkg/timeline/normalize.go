package timeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUpstreamData marks a provider response carrying an explicit error
	// envelope. Normalize still returns a usable all-zero series with it.
	ErrUpstreamData = errors.New("upstream data error")

	// ErrMalformedResponse marks a provider response that is neither a valid
	// series nor an error envelope.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// UpstreamDataError carries the provider's error message
type UpstreamDataError struct {
	SeriesID string
	Message  string
}

func (e *UpstreamDataError) Error() string {
	if e.SeriesID != "" {
		return fmt.Sprintf("upstream data error for series %s: %s", e.SeriesID, e.Message)
	}
	return "upstream data error: " + e.Message
}

func (e *UpstreamDataError) Unwrap() error { return ErrUpstreamData }

// rawResponse mirrors the two shapes the provider can return
type rawResponse struct {
	Request *struct {
		SeriesID string `json:"series_id"`
	} `json:"request,omitempty"`
	Series []struct {
		Data [][]json.RawMessage `json:"data"`
	} `json:"series"`
	Data *struct {
		Error json.RawMessage `json:"error"`
	} `json:"data,omitempty"`
}

// Normalize converts a raw provider response into a quarterly series.
//
// An error envelope yields a full-window all-zero series together with an
// *UpstreamDataError; callers are expected to log it and carry on. A valid
// response keeps every supplied period, including periods outside window,
// and leaves gaps for Impute to fill.
func Normalize(raw []byte, window DateRange) (QuarterlySeries, error) {
	var resp rawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if resp.Data != nil && len(resp.Data.Error) > 0 && !bytes.Equal(resp.Data.Error, []byte("null")) {
		upstreamErr := &UpstreamDataError{Message: errorMessage(resp.Data.Error)}
		if resp.Request != nil {
			upstreamErr.SeriesID = resp.Request.SeriesID
		}
		return ZeroSeries(window), upstreamErr
	}

	if len(resp.Series) == 0 {
		return nil, fmt.Errorf("%w: no series in response", ErrMalformedResponse)
	}

	entries := resp.Series[0].Data
	series := make(QuarterlySeries, 0, len(entries))
	for i, entry := range entries {
		if len(entry) < 2 {
			return nil, fmt.Errorf("%w: entry %d has %d fields", ErrMalformedResponse, i, len(entry))
		}
		var label string
		if err := json.Unmarshal(entry[0], &label); err != nil {
			return nil, fmt.Errorf("%w: entry %d period: %v", ErrMalformedResponse, i, err)
		}
		date, err := ParsePeriod(label)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedResponse, i, err)
		}
		value, missing, err := parseValue(entry[1])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s) value: %v", ErrMalformedResponse, i, label, err)
		}
		series = append(series, Observation{Date: date, Value: value, Missing: missing})
	}

	// Provider data arrives newest first.
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date)
	})
	return series, nil
}

// ZeroSeries returns a complete series over window with every value 0
func ZeroSeries(window DateRange) QuarterlySeries {
	grid := window.QuarterEnds()
	series := make(QuarterlySeries, len(grid))
	for i, q := range grid {
		series[i] = Observation{Date: q}
	}
	return series
}

func parseValue(raw json.RawMessage) (float64, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, true, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(s)
		// The provider uses placeholder strings for withheld values.
		if s == "" || s == "--" || s == "NA" || s == "W" {
			return 0, true, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, err
		}
		return v, false, nil
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return 0, false, err
	}
	return v, false, nil
}

func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
