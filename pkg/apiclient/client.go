package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
)

const errorBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("shoppad server url is required")

// Client calls the ShopPad REST API on behalf of the kiosk.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Catalog mirrors GET /api/products.
type Catalog struct {
	Products   []models.Product `json:"products"`
	Categories []string         `json:"categories"`
}

// LatestWeight returns the newest stored reading, or nil when none exist.
func (c *Client) LatestWeight(ctx context.Context) (*models.WeightReading, error) {
	var reading models.WeightReading
	err := c.get(ctx, "api/weight/latest", &reading)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

func (c *Client) Product(ctx context.Context, id string) (*models.Product, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	var product models.Product
	if err := c.get(ctx, "api/products/"+url.PathEscape(trimmed), &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *Client) Catalog(ctx context.Context) (*Catalog, error) {
	var catalog Catalog
	if err := c.get(ctx, "api/products", &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// get decodes the data member of a success envelope into out. Error
// envelopes keep their server code.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "shoppad client not configured")
	}
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response data")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))

	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		code := pkgerrors.Code(envelope.Error.Code)
		if resp.StatusCode >= http.StatusInternalServerError {
			code = pkgerrors.CodeDependency
		}
		return pkgerrors.New(code, envelope.Error.Message).WithDetails(envelope.Error.Details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		"request failed")
}
