package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
)

const DefaultClientTimeout = 30 * time.Second

type ClientOptions struct {
	// URL of the control API, e.g. http://127.0.0.1:8090
	URL     string
	Timeout time.Duration
	Logger  logging.Logger
}

// ClientGateway is a domain.Contract backed by the control API
type ClientGateway struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

var _ domain.Contract = (*ClientGateway)(nil)
var _ Lifecycle = (*ClientGateway)(nil)

func NewClientGateway(options ClientOptions) (*ClientGateway, error) {
	parsed, err := url.Parse(options.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid control API url: %s", options.URL), err)
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ClientGateway{
		baseURL:    strings.TrimRight(options.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

func kindSegment(kind domain.EntityKind) (string, error) {
	switch kind {
	case domain.EntityKindSite:
		return "sites", nil
	case domain.EntityKindAppPool:
		return "apppools", nil
	}
	return "", errors.NewValidationError(fmt.Sprintf("invalid entity kind: %s", kind), nil)
}

// do sends the request and decodes a 2xx body into out, or the error body into a DomainError
func (gw *ClientGateway) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, gw.baseURL+path, nil)
	if err != nil {
		return errors.NewInternalError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := gw.httpClient.Do(req)
	if err != nil {
		gw.logger.Errorf("Control API request failed, method: %s, path: %s, error: %v", method, path, err)
		return errors.NewNetworkError("control API unreachable", err).WithContext("url", gw.baseURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewNetworkError("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, body)
	}

	gw.logger.Debugf("Control API request done, method: %s, path: %s, status: %d", method, path, resp.StatusCode)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewInternalError("failed to decode response", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var response ErrorResponse
	if err := json.Unmarshal(body, &response); err != nil || response.Error == "" {
		return errors.NewDomainError(typeFromStatus(status), fmt.Sprintf("request failed with status %d", status), nil).
			WithContext("status", status)
	}

	errorType := errors.ErrorType(response.Type)
	if errorType == "" {
		errorType = typeFromStatus(status)
	}
	domainErr := errors.NewDomainError(errorType, response.Error, nil)
	for key, value := range response.Context {
		domainErr.WithContext(key, value)
	}
	return domainErr
}

func (gw *ClientGateway) ListSites(ctx context.Context) ([]domain.EntityStatus, error) {
	var sites []domain.EntityStatus
	if err := gw.do(ctx, http.MethodGet, "/api/v1/sites", &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

func (gw *ClientGateway) ListAppPools(ctx context.Context) ([]domain.EntityStatus, error) {
	var pools []domain.EntityStatus
	if err := gw.do(ctx, http.MethodGet, "/api/v1/apppools", &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

func (gw *ClientGateway) GetEntity(ctx context.Context, kind domain.EntityKind, name string) (domain.EntityStatus, error) {
	segment, err := kindSegment(kind)
	if err != nil {
		return domain.EntityStatus{}, err
	}
	var status domain.EntityStatus
	path := fmt.Sprintf("/api/v1/%s/%s", segment, url.PathEscape(name))
	if err := gw.do(ctx, http.MethodGet, path, &status); err != nil {
		return domain.EntityStatus{}, err
	}
	return status, nil
}

func (gw *ClientGateway) Enqueue(ctx context.Context, kind domain.EntityKind, name string, operation domain.Operation) (string, error) {
	segment, err := kindSegment(kind)
	if err != nil {
		return "", err
	}
	var response EnqueueResponse
	path := fmt.Sprintf("/api/v1/%s/%s/%s", segment, url.PathEscape(name), operation)
	if err := gw.do(ctx, http.MethodPost, path, &response); err != nil {
		return "", err
	}
	return response.OperationID, nil
}

func (gw *ClientGateway) OperationStatus(ctx context.Context, id string) (domain.PendingOperation, error) {
	var op domain.PendingOperation
	if err := gw.do(ctx, http.MethodGet, "/api/v1/operations/"+url.PathEscape(id), &op); err != nil {
		return domain.PendingOperation{}, err
	}
	return op, nil
}

func (gw *ClientGateway) ListOperations(ctx context.Context) ([]domain.PendingOperation, error) {
	var ops []domain.PendingOperation
	if err := gw.do(ctx, http.MethodGet, "/api/v1/operations", &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (gw *ClientGateway) Refresh(ctx context.Context) error {
	return gw.do(ctx, http.MethodPost, "/api/v1/refresh", nil)
}

func (gw *ClientGateway) Stats(ctx context.Context) (domain.MonitorStats, error) {
	var stats domain.MonitorStats
	if err := gw.do(ctx, http.MethodGet, "/api/v1/stats", &stats); err != nil {
		return domain.MonitorStats{}, err
	}
	return stats, nil
}

func (gw *ClientGateway) RecentLogs(ctx context.Context, count int) ([]string, error) {
	path := "/api/v1/logs"
	if count > 0 {
		path += "?count=" + strconv.Itoa(count)
	}
	var response LogsResponse
	if err := gw.do(ctx, http.MethodGet, path, &response); err != nil {
		return nil, err
	}
	return response.Lines, nil
}

func (gw *ClientGateway) Discover(ctx context.Context, kind domain.EntityKind) ([]domain.DiscoveredEntity, error) {
	segment, err := kindSegment(kind)
	if err != nil {
		return nil, err
	}
	var entities []domain.DiscoveredEntity
	if err := gw.do(ctx, http.MethodGet, "/api/v1/discovery/"+segment, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (gw *ClientGateway) Start(ctx context.Context) error {
	return gw.do(ctx, http.MethodPost, "/api/v1/monitor/start", nil)
}

func (gw *ClientGateway) Stop(ctx context.Context) error {
	return gw.do(ctx, http.MethodPost, "/api/v1/monitor/stop", nil)
}
