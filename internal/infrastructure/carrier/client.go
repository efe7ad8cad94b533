// Package carrier is the HTTP client for the carrier connect API: rate
// quotes, label purchase, status, refunds and print documents.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shiplabel/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// PurchaseRequest is the label purchase submission. Rates, hazmat and
// customs are shipment-id-indexed even though a single shipment is
// submitted per call; batching across shipments happens at the caller.
type PurchaseRequest struct {
	OrderID     int64                                `json:"order_id"`
	Packages    []shipping.RequestPackage            `json:"packages"`
	ShipmentID  string                               `json:"shipment_id"`
	Rates       map[string]shipping.SelectedRate     `json:"selected_rates"`
	Hazmat      map[string]shipping.HazmatState      `json:"hazmat"`
	Origin      shipping.Address                     `json:"origin"`
	Destination shipping.Address                     `json:"destination"`
	Customs     map[string]*shipping.CustomsState    `json:"customs_information"`
	Meta        shipping.PurchaseMeta                `json:"user_meta"`
}

// API is the carrier connect surface consumed by the purchase store and
// the rates engine
type API interface {
	GetRates(ctx context.Context, origin shipping.Address, destination *shipping.Address, pkg shipping.RequestPackage) ([]shipping.Rate, error)
	PurchaseLabels(ctx context.Context, req PurchaseRequest) ([]shipping.Label, error)
	GetLabelStatus(ctx context.Context, orderID, labelID int64) (*shipping.Label, error)
	RefundLabel(ctx context.Context, orderID, labelID int64) (*shipping.Refund, error)
	GetPrintDocument(ctx context.Context, paperSize string, labelID int64) (*shipping.PrintDocument, error)
}

// Client is the HTTP implementation of API
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a carrier API client
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// apiError is the carrier API's structured error payload
type apiError struct {
	Message []string `json:"message"`
	Actions []string `json:"actions"`
}

// do performs a JSON request against the carrier API and decodes the
// response into out. Structured API errors are surfaced as LabelError
// with the given cause; transport errors are wrapped.
func (c *Client) do(ctx context.Context, method, path string, body any, out any, cause shipping.ErrorCause) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("carrier API %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr == nil && len(payload.Message) > 0 {
			return &shipping.LabelError{Cause: cause, Message: payload.Message, Actions: payload.Actions}
		}
		return shipping.NewLabelError(cause, fmt.Sprintf("carrier API returned status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// GetRates fetches rate quotes for a package
func (c *Client) GetRates(ctx context.Context, origin shipping.Address, destination *shipping.Address, pkg shipping.RequestPackage) ([]shipping.Rate, error) {
	request := map[string]any{
		"origin":      origin,
		"destination": destination,
		"packages":    []shipping.RequestPackage{pkg},
	}
	var response struct {
		Rates []shipping.Rate `json:"rates"`
	}
	if err := c.do(ctx, http.MethodPost, "/shipping/rates", request, &response, shipping.CauseStatusError); err != nil {
		return nil, err
	}
	return response.Rates, nil
}

// PurchaseLabels submits a label purchase and returns the created labels
func (c *Client) PurchaseLabels(ctx context.Context, req PurchaseRequest) ([]shipping.Label, error) {
	var response struct {
		Labels []shipping.Label `json:"labels"`
	}
	path := fmt.Sprintf("/shipping/label/purchase/%d", req.OrderID)
	if err := c.do(ctx, http.MethodPost, path, req, &response, shipping.CausePurchaseError); err != nil {
		return nil, err
	}
	return response.Labels, nil
}

// GetLabelStatus fetches the current state of a purchased label
func (c *Client) GetLabelStatus(ctx context.Context, orderID, labelID int64) (*shipping.Label, error) {
	var response struct {
		Label *shipping.Label `json:"label"`
	}
	path := fmt.Sprintf("/shipping/label/status/%d/%d", orderID, labelID)
	if err := c.do(ctx, http.MethodGet, path, nil, &response, shipping.CauseStatusError); err != nil {
		return nil, err
	}
	return response.Label, nil
}

// RefundLabel requests a refund for a purchased label
func (c *Client) RefundLabel(ctx context.Context, orderID, labelID int64) (*shipping.Refund, error) {
	var response struct {
		Refund *shipping.Refund `json:"refund"`
	}
	path := fmt.Sprintf("/shipping/label/refund/%d/%d", orderID, labelID)
	if err := c.do(ctx, http.MethodPost, path, nil, &response, shipping.CauseRefundError); err != nil {
		return nil, err
	}
	return response.Refund, nil
}

// GetPrintDocument fetches the print-ready document for a label at the
// chosen paper size
func (c *Client) GetPrintDocument(ctx context.Context, paperSize string, labelID int64) (*shipping.PrintDocument, error) {
	var document shipping.PrintDocument
	path := fmt.Sprintf("/shipping/label/print/%s/%d", paperSize, labelID)
	if err := c.do(ctx, http.MethodGet, path, nil, &document, shipping.CausePrintError); err != nil {
		return nil, err
	}
	return &document, nil
}

// Ensure Client implements API
var _ API = (*Client)(nil)
