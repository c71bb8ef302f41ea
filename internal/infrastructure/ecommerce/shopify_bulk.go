package ecommerce

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const maxBulkLineSize = 16 * 1024 * 1024

// bulkOrdersQuery exports orders with line items as a nested connection.
// Refunds and transactions are list fields, so they arrive embedded in the
// order record.
const bulkOrdersQuery = `{
  orders(query: %q) {
    edges {
      node {
        id
        name
        createdAt
        updatedAt
        processedAt
        cancelledAt
        currencyCode
        presentmentCurrencyCode
        displayFinancialStatus
        displayFulfillmentStatus
        totalPriceSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
        totalDiscountsSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
        totalTaxSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
        currentTotalDutiesSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
        totalShippingPriceSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
        customer { id }
        refunds {
          id
          createdAt
          refundLineItems(first: 250) {
            nodes {
              id
              quantity
              lineItem { id }
              subtotalSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
            }
          }
        }
        transactions {
          id
          kind
          gateway
          status
          createdAt
          processedAt
          amountSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
          fees { id type amount { amount currencyCode } }
        }
        lineItems {
          edges {
            node {
              id
              title
              quantity
              product { id }
              variant { id inventoryItem { id } }
              originalUnitPriceSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
              totalDiscountSet { shopMoney { amount currencyCode } presentmentMoney { amount currencyCode } }
            }
          }
        }
      }
    }
  }
}`

// pendingOrder is an order whose line items are still being collected
type pendingOrder struct {
	id    string
	order bulkOrder
	lines []webhookLineItem
	// undecodable lines seen while the order was open
	passthrough [][]byte
}

// bulkTranslator rewrites a bulk export into the webhook payload schema:
// each order record (with its line items embedded) followed by one record
// per refund and per transaction. Undecodable lines are copied through,
// after the open order's records, so the reader can count them.
type bulkTranslator struct {
	w   *bufio.Writer
	enc *json.Encoder
	cur *pendingOrder
}

func translateBulkExport(r io.Reader, w io.Writer) error {
	bw := bufio.NewWriter(w)
	t := &bulkTranslator{w: bw, enc: json.NewEncoder(bw)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxBulkLineSize)
	for scanner.Scan() {
		if err := t.line(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("shopify: read bulk export: %w", err)
	}
	if err := t.flush(); err != nil {
		return err
	}
	return bw.Flush()
}

func (t *bulkTranslator) line(line []byte) error {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	var envelope struct {
		ID       string `json:"id"`
		ParentID string `json:"__parentId"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return t.passThrough(line)
	}

	switch gidType(envelope.ID) {
	case "Order":
		if err := t.flush(); err != nil {
			return err
		}
		var o bulkOrder
		if err := json.Unmarshal(line, &o); err != nil {
			return t.passThrough(line)
		}
		t.cur = &pendingOrder{id: gidID(o.ID), order: o}
	case "LineItem":
		// children always follow their parent; orphans are dropped
		if t.cur == nil || gidID(envelope.ParentID) != t.cur.id {
			return nil
		}
		var li bulkLineItem
		if err := json.Unmarshal(line, &li); err != nil {
			return t.passThrough(line)
		}
		t.cur.lines = append(t.cur.lines, toWebhookLineItem(li))
	}
	return nil
}

func (t *bulkTranslator) passThrough(line []byte) error {
	if t.cur != nil {
		t.cur.passthrough = append(t.cur.passthrough, append([]byte(nil), line...))
		return nil
	}
	return t.writeLine(line)
}

func (t *bulkTranslator) writeLine(line []byte) error {
	if _, err := t.w.Write(line); err != nil {
		return err
	}
	return t.w.WriteByte('\n')
}

func (t *bulkTranslator) flush() error {
	if t.cur == nil {
		return nil
	}
	p := t.cur
	t.cur = nil

	order := toWebhookOrder(p.order)
	order.LineItems = p.lines
	if order.LineItems == nil {
		order.LineItems = []webhookLineItem{}
	}
	if err := t.enc.Encode(order); err != nil {
		return err
	}
	for _, r := range p.order.Refunds {
		if err := t.enc.Encode(toWebhookRefund(p.id, r)); err != nil {
			return err
		}
	}
	for _, tx := range p.order.Transactions {
		if err := t.enc.Encode(toWebhookTransaction(p.id, p.order.CurrencyCode, tx)); err != nil {
			return err
		}
	}
	for _, line := range p.passthrough {
		if err := t.writeLine(line); err != nil {
			return err
		}
	}
	return nil
}

func toWebhookOrder(o bulkOrder) webhookOrder {
	out := webhookOrder{
		ID:                    gidID(o.ID),
		Name:                  o.Name,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
		ProcessedAt:           o.ProcessedAt,
		CancelledAt:           o.CancelledAt,
		Currency:              o.CurrencyCode,
		PresentmentCurrency:   o.PresentmentCurrencyCode,
		TotalPrice:            o.TotalPriceSet.shopAmount(),
		TotalPriceSet:         o.TotalPriceSet.priceSet(),
		TotalDiscountsSet:     o.TotalDiscountsSet.priceSet(),
		TotalTaxSet:           o.TotalTaxSet.priceSet(),
		CurrentTotalDutiesSet: o.CurrentTotalDutiesSet.priceSet(),
		TotalShippingPriceSet: o.TotalShippingPriceSet.priceSet(),
		FinancialStatus:       strings.ToLower(o.DisplayFinancialStatus),
		FulfillmentStatus:     strings.ToLower(o.DisplayFulfillmentStatus),
	}
	if o.Customer != nil {
		out.Customer = &webhookRef{ID: gidID(o.Customer.ID)}
	}
	return out
}

func toWebhookLineItem(li bulkLineItem) webhookLineItem {
	out := webhookLineItem{
		ID:               gidID(li.ID),
		ProductID:        refID(li.Product),
		Title:            li.Title,
		Quantity:         li.Quantity,
		Price:            li.OriginalUnitPriceSet.shopAmount(),
		PriceSet:         li.OriginalUnitPriceSet.priceSet(),
		TotalDiscountSet: li.TotalDiscountSet.priceSet(),
	}
	if li.Variant != nil {
		out.VariantID = gidID(li.Variant.ID)
		out.InventoryItemID = refID(li.Variant.InventoryItem)
	}
	return out
}

func toWebhookRefund(orderID string, r bulkRefund) webhookRefund {
	out := webhookRefund{
		ID:              gidID(r.ID),
		OrderID:         orderID,
		CreatedAt:       r.CreatedAt,
		RefundLineItems: []webhookRefundLineItem{},
	}
	for _, rl := range r.RefundLineItems.all() {
		lineID := gidID(rl.LineItem.ID)
		id := gidID(rl.ID)
		if id == "" {
			id = out.ID + "-" + lineID
		}
		out.RefundLineItems = append(out.RefundLineItems, webhookRefundLineItem{
			ID:          id,
			LineItemID:  lineID,
			Quantity:    rl.Quantity,
			Subtotal:    rl.SubtotalSet.shopAmount(),
			SubtotalSet: rl.SubtotalSet.priceSet(),
		})
	}
	return out
}

func toWebhookTransaction(orderID, shopCurrency string, tx bulkTransaction) webhookTransaction {
	out := webhookTransaction{
		ID:          gidID(tx.ID),
		OrderID:     orderID,
		Kind:        strings.ToLower(tx.Kind),
		Gateway:     tx.Gateway,
		Status:      strings.ToLower(tx.Status),
		Amount:      tx.AmountSet.shopAmount(),
		AmountSet:   tx.AmountSet.priceSet(),
		Currency:    shopCurrency,
		CreatedAt:   tx.CreatedAt,
		ProcessedAt: tx.ProcessedAt,
		Fees:        []webhookFee{},
	}
	for _, f := range tx.Fees {
		out.Fees = append(out.Fees, webhookFee{
			ID:       gidID(f.ID),
			Type:     strings.ToLower(f.Type),
			Amount:   f.Amount.Amount,
			Currency: f.Amount.CurrencyCode,
		})
	}
	return out
}
