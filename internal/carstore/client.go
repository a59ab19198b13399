// Package carstore is the REST client of the car storage service.
package carstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/pkg/log"
)

const (
	statusSuccess  = "success"
	maxBodyBytes   = 4 << 20
	noServerReason = "no error message from server"
)

var (
	// ErrUnreachable is returned when the service answers through a gateway that cannot reach it.
	ErrUnreachable = errors.New("could not reach API (502)")

	// ErrNotFound is returned by Get when no car has the plate.
	ErrNotFound = errors.New("car not found")
)

// APIError is a response whose status is not "success".
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("car storage: %s (HTTP %d)", e.Message, e.StatusCode)
}

type envelope struct {
	Status  string  `json:"status"`
	Message *string `json:"message,omitempty"`
	Cars    []Car   `json:"cars,omitempty"`
	Brands  []Brand `json:"brands,omitempty"`
}

// Config configures the Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client talks to the /cars and /brands endpoints.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger log.Logger
}

// New returns a client for cfg.BaseURL.
func New(cfg Config, logger log.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid car storage url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("car storage url %q must use http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Client{base: base, http: hc, logger: logger.WithName("carstore")}, nil
}

// List returns every tracked car.
func (c *Client) List(ctx context.Context) ([]Car, error) {
	env, err := c.do(ctx, http.MethodGet, nil, "cars")
	if err != nil {
		return nil, err
	}
	return env.Cars, nil
}

// Get returns the car with plate.
func (c *Client) Get(ctx context.Context, plate string) (Car, error) {
	env, err := c.do(ctx, http.MethodGet, nil, "cars", plateSegment(plate))
	if err != nil {
		return Car{}, err
	}
	if len(env.Cars) == 0 {
		return Car{}, fmt.Errorf("%w: %s", ErrNotFound, plateSegment(plate))
	}
	return env.Cars[0], nil
}

// Create stores a new car.
func (c *Client) Create(ctx context.Context, car Car) error {
	car.LicensePlate = plateSegment(car.LicensePlate)
	if car.LicensePlate == "" {
		return model.ErrEmptyQuery
	}
	_, err := c.do(ctx, http.MethodPost, car, "cars")
	return err
}

// Update replaces the car stored under oldPlate. The plate itself may change.
func (c *Client) Update(ctx context.Context, oldPlate string, car Car) error {
	car.LicensePlate = plateSegment(car.LicensePlate)
	if car.LicensePlate == "" || plateSegment(oldPlate) == "" {
		return model.ErrEmptyQuery
	}
	_, err := c.do(ctx, http.MethodPut, car, "cars", plateSegment(oldPlate))
	return err
}

// Delete removes the car with plate.
func (c *Client) Delete(ctx context.Context, plate string) error {
	_, err := c.do(ctx, http.MethodDelete, nil, "cars", plateSegment(plate))
	return err
}

// Brands returns the brand catalogue.
func (c *Client) Brands(ctx context.Context) ([]Brand, error) {
	env, err := c.do(ctx, http.MethodGet, nil, "brands")
	if err != nil {
		return nil, err
	}
	return env.Brands, nil
}

func (c *Client) do(ctx context.Context, method string, body any, segments ...string) (*envelope, error) {
	u := c.base.JoinPath(segments...)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, u.Path, err)
	}
	c.logger.Debug("Car storage request", "method", method, "path", u.Path, "status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode == http.StatusBadGateway {
		return nil, ErrUnreachable
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if bytes.Contains(data, []byte("502")) {
			return nil, ErrUnreachable
		}
		return nil, fmt.Errorf("%s %s: failed to decode response (HTTP %d): %w", method, u.Path, resp.StatusCode, err)
	}

	if env.Status != statusSuccess || resp.StatusCode >= http.StatusBadRequest {
		msg := noServerReason
		if env.Message != nil && *env.Message != "" {
			msg = *env.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &env, nil
}

func plateSegment(plate string) string {
	return model.NormalizePlate(plate)
}
