package goposthog

import (
	"context"

	"github.com/posthog/posthog-go"

	"github.com/notiva/notiva-sync/tlmt"
)

var _ tlmt.Telemetry = (*service)(nil)

type service struct {
	client posthog.Client
}

func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, err
	}

	return &service{client: client}, nil
}

func (s *service) Send(_ context.Context, event tlmt.Event) error {
	props := posthog.NewProperties()
	for k, v := range event.Properties {
		props.Set(k, v)
	}

	capture := posthog.Capture{
		DistinctId: event.AnonymousID,
		Event:      event.Name,
		Properties: props,
	}

	if err := capture.Validate(); err != nil {
		return err
	}

	return s.client.Enqueue(capture)
}

func (s *service) Close() error {
	return s.client.Close()
}
