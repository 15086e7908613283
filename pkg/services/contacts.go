// Package services implements the external collaborator clients: the
// contact store that resolves subscribers, mutates tags and dispatches
// stored messages over its HTTP API.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/protocol"
)

const defaultTimeout = 10 * time.Second

// ContactClient talks to the contact store's REST API. It implements all
// three collaborator interfaces the engine consumes.
type ContactClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewContactClient(baseURL, apiKey string, logger *slog.Logger) *ContactClient {
	return &ContactClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("component", "contact_client"),
	}
}

func (c *ContactClient) FindByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	var subscriber models.Subscriber

	err := c.do(ctx, http.MethodGet, "/subscribers?email="+url.QueryEscape(email), nil, &subscriber)
	if err != nil {
		return nil, err
	}

	return &subscriber, nil
}

func (c *ContactClient) FindByID(ctx context.Context, id string) (*models.Subscriber, error) {
	var subscriber models.Subscriber

	err := c.do(ctx, http.MethodGet, "/subscribers/"+url.PathEscape(id), nil, &subscriber)
	if err != nil {
		return nil, err
	}

	return &subscriber, nil
}

func (c *ContactClient) AddTag(ctx context.Context, subscriberID, tag string) error {
	return c.do(ctx, http.MethodPost, "/subscribers/"+url.PathEscape(subscriberID)+"/tags", map[string]string{"tag": tag}, nil)
}

func (c *ContactClient) RemoveTag(ctx context.Context, subscriberID, tag string) error {
	return c.do(ctx, http.MethodDelete, "/subscribers/"+url.PathEscape(subscriberID)+"/tags/"+url.PathEscape(tag), nil, nil)
}

func (c *ContactClient) Send(ctx context.Context, subscriberID, messageID string) error {
	return c.do(ctx, http.MethodPost, "/subscribers/"+url.PathEscape(subscriberID)+"/messages", map[string]string{"message_id": messageID}, nil)
}

func (c *ContactClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build contact store request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact store request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return persistence.ErrSubscriberNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("contact store returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode contact store response: %w", err)
		}
	}

	return nil
}

var (
	_ protocol.SubscriberService = (*ContactClient)(nil)
	_ protocol.TagService        = (*ContactClient)(nil)
	_ protocol.MessageService    = (*ContactClient)(nil)
)
