package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

var fetchHeaders = map[string]string{
	"Accept":       "application/json",
	"Content-Type": "application/json",
}

type fetchRequest struct {
	Token string `json:"token"`
}

// MeterFetcher retrieves the resident meter data with a session token
type MeterFetcher struct {
	transport Transport
	url       string
	logger    *logrus.Logger
	metrics   *metrics.Collector
}

func NewMeterFetcher(transport Transport, url string, logger *logrus.Logger, m *metrics.Collector) *MeterFetcher {
	if url == "" {
		url = DefaultMeterDataURL
	}
	return &MeterFetcher{
		transport: transport,
		url:       url,
		logger:    logger,
		metrics:   m,
	}
}

// FetchDataset makes a single request for the meter data. Any failure,
// including a transport error or an undecodable body, is a *FetchError.
func (f *MeterFetcher) FetchDataset(ctx context.Context, token string) (*models.RawDataset, error) {
	start := time.Now()
	dataset, err := f.fetch(ctx, token)
	if err != nil {
		f.metrics.ObserveFetch(metrics.ResultFailure, time.Since(start))
		return nil, err
	}
	f.metrics.ObserveFetch(metrics.ResultSuccess, time.Since(start))

	f.logger.WithFields(logrus.Fields{
		"url":    f.url,
		"meters": len(dataset.Meters),
	}).Info("Updated Hydrolink meter data")
	return dataset, nil
}

func (f *MeterFetcher) fetch(ctx context.Context, token string) (*models.RawDataset, error) {
	payload, err := json.Marshal(fetchRequest{Token: token})
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	resp, err := f.transport.Post(ctx, f.url, fetchHeaders, payload)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: snippet(resp.Body)}
	}

	// A missing meters key is malformed; "meters": null is an empty list.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &fields); err != nil {
		return nil, decodeError(resp, err)
	}
	raw, ok := fields["meters"]
	if !ok {
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Body:       snippet(resp.Body),
			Err:        errors.New("response has no meters field"),
		}
	}
	var meters []models.DeviceRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &meters); err != nil {
			return nil, decodeError(resp, err)
		}
	}
	for i, meter := range meters {
		if meter.SecondaryAddress == "" {
			return nil, &FetchError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("meter at index %d has no secondaryAddress", i),
			}
		}
	}

	return &models.RawDataset{
		Meters:    meters,
		FetchedAt: time.Now(),
	}, nil
}

func decodeError(resp *Response, err error) *FetchError {
	return &FetchError{
		StatusCode: resp.StatusCode,
		Body:       snippet(resp.Body),
		Err:        fmt.Errorf("failed to decode response: %w", err),
	}
}
