package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/fieldpad/syncengine/internal/config"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/models"
)

type httpServerAdapter struct {
	client   *resty.Client
	tokens   TokenProvider
	deviceID string

	logger *logger.Logger
}

// NewHTTPServerAdapter constructs an HTTP/REST implementation of
// [ServerAdapter]. It normalises and validates the base URL from
// adapterCfg.BaseURL and configures the underlying client with the resolved
// base URL and request timeout. Every request carries the device identifier
// header and, when the provider yields one, a bearer token.
//
// Returns an error if adapterCfg.BaseURL is empty or cannot be parsed as a
// valid URL.
func NewHTTPServerAdapter(adapterCfg config.Adapter, deviceID string, tokens TokenProvider, logger *logger.Logger) (ServerAdapter, error) {
	baseURL, err := normalizeBaseURL(adapterCfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid adapter base url: %w", err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(adapterCfg.RequestTimeout)

	return &httpServerAdapter{
		client:   client,
		tokens:   tokens,
		deviceID: deviceID,
		logger:   logger,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// Create implements [ServerAdapter]. It POSTs the record to
// POST /api/{collection} and decodes the server's normalised copy from the
// response, since the server may rewrite fields on insert.
func (h *httpServerAdapter) Create(ctx context.Context, collection string, req models.UpsertRequest) (models.ServerRecord, error) {
	resp, err := h.authedRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/api/" + url.PathEscape(collection))
	if err != nil {
		return models.ServerRecord{}, fmt.Errorf("%w: create request: %w", ErrNetworkTransient, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return models.ServerRecord{}, err
	}

	return decodeServerRecord(resp.Body())
}

// Update implements [ServerAdapter]. It PUTs the record to
// PUT /api/{collection}/{id} with an If-Match header carrying the last
// observed version. A 409 response surfaces as a [ConflictError] holding the
// server's current record.
func (h *httpServerAdapter) Update(ctx context.Context, collection, id string, req models.UpsertRequest) (models.ServerRecord, error) {
	resp, err := h.authedRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("If-Match", strconv.FormatInt(req.BaseVersion, 10)).
		SetBody(req).
		Put("/api/" + url.PathEscape(collection) + "/" + url.PathEscape(id))
	if err != nil {
		return models.ServerRecord{}, fmt.Errorf("%w: update request: %w", ErrNetworkTransient, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return models.ServerRecord{}, err
	}

	return decodeServerRecord(resp.Body())
}

// Delete implements [ServerAdapter]. It sends
// DELETE /api/{collection}/{id} guarded by an If-Match version header.
func (h *httpServerAdapter) Delete(ctx context.Context, collection, id string, baseVersion int64) error {
	resp, err := h.authedRequest(ctx).
		SetHeader("If-Match", strconv.FormatInt(baseVersion, 10)).
		Delete("/api/" + url.PathEscape(collection) + "/" + url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("%w: delete request: %w", ErrNetworkTransient, err)
	}

	return mapHTTPError(resp)
}

// Pull implements [ServerAdapter]. It GETs the collection delta endpoint
// GET /api/{collection}?since=<cursor>&device_id=<id> and decodes the
// response into a [models.PullResponse]. The cursor is opaque; an empty
// cursor requests the full collection.
func (h *httpServerAdapter) Pull(ctx context.Context, collection, since string) (models.PullResponse, error) {
	resp, err := h.authedRequest(ctx).
		SetQueryParam("since", since).
		SetQueryParam("device_id", h.deviceID).
		Get("/api/" + url.PathEscape(collection))
	if err != nil {
		return models.PullResponse{}, fmt.Errorf("%w: pull request: %w", ErrNetworkTransient, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return models.PullResponse{}, err
	}

	var pr models.PullResponse
	if err = json.Unmarshal(resp.Body(), &pr); err != nil {
		return models.PullResponse{}, fmt.Errorf("decode pull response: %w", err)
	}

	return pr, nil
}

func (h *httpServerAdapter) authedRequest(ctx context.Context) *resty.Request {
	req := h.client.R().
		SetContext(ctx).
		SetHeader("X-Device-ID", h.deviceID)

	token, err := h.tokens.Token(ctx)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("func", "httpServerAdapter.authedRequest").
			Msg("token provider failed, sending unauthenticated request")
		return req
	}
	if token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}

	return req
}

func decodeServerRecord(body []byte) (models.ServerRecord, error) {
	var rec models.ServerRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return models.ServerRecord{}, fmt.Errorf("decode server record: %w", err)
	}
	return rec, nil
}
