package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum accepted GraphQL response size (10MB)
const maxResponseSize = 10 * 1024 * 1024

// ErrShopifyRequestFailed indicates a rejected Admin API request
var ErrShopifyRequestFailed = errors.New("shopify: request failed")

const inventoryItemQuery = `query inventoryItemCost($id: ID!) {
  inventoryItem(id: $id) {
    tracked
    unitCost { amount currencyCode }
  }
}`

const bulkRunMutation = `mutation bulkOperationRunQuery($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation { id status }
    userErrors { field message }
  }
}`

const bulkNodeQuery = `query bulkOperation($id: ID!) {
  node(id: $id) {
    ... on BulkOperation { id status errorCode objectCount url }
  }
}`

const bulkCancelMutation = `mutation bulkOperationCancel($id: ID!) {
  bulkOperationCancel(id: $id) {
    bulkOperation { id status }
    userErrors { field message }
  }
}`

// ShopifyAdapter talks to the Shopify Admin GraphQL API. It resolves
// inventory costs and drives bulk order exports.
type ShopifyAdapter struct {
	config     *ShopifyConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewShopifyAdapter creates a new Shopify adapter
func NewShopifyAdapter(config *ShopifyConfig, logger *zap.Logger) *ShopifyAdapter {
	if config == nil {
		config = NewShopifyConfig("")
	}
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShopifyAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     logger,
	}
}

// ---------------------------------------------------------------------------
// Inventory costs
// ---------------------------------------------------------------------------

// FetchUnitCost returns the current unit cost of an inventory item, or nil
// when the item is untracked or has no cost
func (a *ShopifyAdapter) FetchUnitCost(ctx context.Context, shop *domain.Shop, inventoryItemID string) (*domain.InventoryCost, error) {
	var data inventoryItemData
	err := a.graphQL(ctx, shop, inventoryItemQuery, map[string]any{
		"id": "gid://shopify/InventoryItem/" + gidID(inventoryItemID),
	}, &data)
	if err != nil {
		return nil, err
	}
	item := data.InventoryItem
	if item == nil || !item.Tracked || item.UnitCost == nil {
		return nil, nil
	}
	return &domain.InventoryCost{UnitCost: item.UnitCost.Amount, Currency: item.UnitCost.CurrencyCode}, nil
}

// ---------------------------------------------------------------------------
// Bulk exports
// ---------------------------------------------------------------------------

// Submit starts a bulk export of orders created at or after since
func (a *ShopifyAdapter) Submit(ctx context.Context, shop *domain.Shop, since time.Time) (string, error) {
	filter := "created_at:>='" + since.UTC().Format(time.RFC3339) + "'"
	var data bulkRunQueryData
	err := a.graphQL(ctx, shop, bulkRunMutation, map[string]any{
		"query": fmt.Sprintf(bulkOrdersQuery, filter),
	}, &data)
	if err != nil {
		return "", err
	}
	res := data.BulkOperationRunQuery
	if err := userErrors(res.UserErrors); err != nil {
		return "", err
	}
	if res.BulkOperation == nil {
		return "", fmt.Errorf("%w: no bulk operation returned", domain.ErrBackfillExport)
	}

	a.logger.Info("Shopify bulk export submitted",
		zap.String("shop", shop.Domain),
		zap.String("operation", res.BulkOperation.ID))
	return res.BulkOperation.ID, nil
}

// Poll returns the platform state of a bulk export
func (a *ShopifyAdapter) Poll(ctx context.Context, shop *domain.Shop, exportID string) (*domain.ExportState, error) {
	var data bulkNodeData
	if err := a.graphQL(ctx, shop, bulkNodeQuery, map[string]any{"id": exportID}, &data); err != nil {
		return nil, err
	}
	if data.Node == nil {
		return nil, fmt.Errorf("%w: bulk operation %s not found", domain.ErrBackfillExport, exportID)
	}
	return toExportState(data.Node), nil
}

// Cancel asks the platform to stop a running export
func (a *ShopifyAdapter) Cancel(ctx context.Context, shop *domain.Shop, exportID string) error {
	var data bulkCancelData
	if err := a.graphQL(ctx, shop, bulkCancelMutation, map[string]any{"id": exportID}, &data); err != nil {
		return err
	}
	return userErrors(data.BulkOperationCancel.UserErrors)
}

// Open downloads a completed export and streams it as JSON lines in the
// webhook payload schema
func (a *ShopifyAdapter) Open(ctx context.Context, shop *domain.Shop, state *domain.ExportState) (io.ReadCloser, error) {
	if state == nil || state.URL == "" {
		// an export that matched nothing has no file
		return io.NopCloser(strings.NewReader("")), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, state.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("shopify: failed to create download request: %w", err)
	}
	// downloads are large; the request context bounds them instead of the
	// client timeout
	client := &http.Client{Transport: a.httpClient.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: shopify download: %v", domain.ErrDownstreamUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: shopify download: HTTP %d", domain.ErrDownstreamUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: download HTTP %d", domain.ErrBackfillExport, resp.StatusCode)
	}

	pr, pw := io.Pipe()
	go func() {
		err := translateBulkExport(resp.Body, pw)
		resp.Body.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func toExportState(op *shopifyBulkOperation) *domain.ExportState {
	count, _ := strconv.ParseInt(op.ObjectCount, 10, 64)
	status := domain.ExportStatus(op.Status)
	if op.Status == "CANCELING" {
		status = domain.ExportRunning
	}
	return &domain.ExportState{
		ID:          op.ID,
		Status:      status,
		ObjectCount: count,
		URL:         op.URL,
		ErrorCode:   op.ErrorCode,
	}
}

func userErrors(errs []shopifyUserError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("%w: %s", domain.ErrBackfillExport, strings.Join(msgs, "; "))
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// graphQL posts a query and decodes data into out. Network failures,
// throttling and 5xx responses wrap ErrDownstreamUnavailable so callers
// can retry them.
func (a *ShopifyAdapter) graphQL(ctx context.Context, shop *domain.Shop, query string, vars map[string]any, out any) error {
	if shop.AccessToken == "" {
		return ErrShopifyMissingToken
	}
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("shopify: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.GraphQLEndpoint(shop), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("shopify: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", shop.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: shopify: %v", domain.ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: shopify: failed to read response: %v", domain.ErrDownstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: shopify: HTTP %d", domain.ErrDownstreamUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: HTTP %d", ErrShopifyRequestFailed, resp.StatusCode)
	}

	var env graphQLResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("shopify: failed to decode response: %w", err)
	}
	if len(env.Errors) > 0 {
		for _, e := range env.Errors {
			if e.Extensions.Code == "THROTTLED" {
				return fmt.Errorf("%w: shopify: throttled", domain.ErrDownstreamUnavailable)
			}
		}
		return fmt.Errorf("%w: %s", ErrShopifyRequestFailed, env.Errors[0].Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("shopify: failed to decode data: %w", err)
	}
	return nil
}

var (
	_ domain.InventoryCostSource = (*ShopifyAdapter)(nil)
	_ domain.BulkExporter        = (*ShopifyAdapter)(nil)
)
