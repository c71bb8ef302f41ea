package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	domain "github.com/profitledger/backend/internal/domain/ledger"
)

const maxRecordSize = 16 * 1024 * 1024

// OrderGroup is an order record followed by the refund and transaction
// records that belong to it. Order is nil for children whose order record
// came earlier in the export.
type OrderGroup struct {
	OrderID      string
	Order        *OrderPayload
	Refunds      []*RefundPayload
	Transactions []*TransactionPayload
	// Records is the number of lines consumed for this group
	Records int
	// Malformed counts lines that could not be decoded
	Malformed int
}

type backfillRecord struct {
	kind        domain.ResourceKind
	orderID     string
	order       *OrderPayload
	refund      *RefundPayload
	transaction *TransactionPayload
}

// GroupReader splits a JSON lines export into per-order groups
type GroupReader struct {
	scanner *bufio.Scanner
	pending *backfillRecord
	line    int
	// malformed lines seen before the next group starts
	malformed int
}

// NewGroupReader creates a GroupReader over r
func NewGroupReader(r io.Reader) *GroupReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxRecordSize)
	return &GroupReader{scanner: s}
}

// Next returns the next group or io.EOF
func (g *GroupReader) Next() (*OrderGroup, error) {
	var group *OrderGroup
	for {
		rec, err := g.pendingOrNext()
		if errors.Is(err, io.EOF) {
			if group == nil && g.malformed == 0 {
				return nil, io.EOF
			}
			if group == nil {
				group = &OrderGroup{}
			}
			group.Malformed += g.malformed
			g.malformed = 0
			return group, nil
		}
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}

		if group == nil {
			group = &OrderGroup{OrderID: rec.orderID, Malformed: g.malformed}
			g.malformed = 0
		} else if rec.kind == domain.ResourceOrder || rec.orderID != group.OrderID {
			g.pending = rec
			return group, nil
		}

		group.Records++
		switch rec.kind {
		case domain.ResourceOrder:
			group.Order = rec.order
		case domain.ResourceRefund:
			group.Refunds = append(group.Refunds, rec.refund)
		case domain.ResourceTransaction:
			group.Transactions = append(group.Transactions, rec.transaction)
		}
	}
}

func (g *GroupReader) pendingOrNext() (*backfillRecord, error) {
	if g.pending != nil {
		rec := g.pending
		g.pending = nil
		return rec, nil
	}
	if !g.scanner.Scan() {
		if err := g.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read export line %d: %w", g.line+1, err)
		}
		return nil, io.EOF
	}
	g.line++
	line := g.scanner.Bytes()
	if len(line) == 0 {
		return nil, nil
	}
	rec, err := decodeRecord(line)
	if err != nil {
		g.malformed++
		return nil, nil
	}
	return rec, nil
}

// decodeRecord detects the record kind from its fields: refunds carry
// refund_line_items, transactions carry order_id, anything else is an order.
func decodeRecord(line []byte) (*backfillRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, err
	}
	switch {
	case fields["refund_line_items"] != nil:
		var p RefundPayload
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, err
		}
		return &backfillRecord{kind: domain.ResourceRefund, orderID: p.OrderID.String(), refund: &p}, nil
	case fields["order_id"] != nil:
		var p TransactionPayload
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, err
		}
		return &backfillRecord{kind: domain.ResourceTransaction, orderID: p.OrderID.String(), transaction: &p}, nil
	default:
		var p OrderPayload
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, err
		}
		return &backfillRecord{kind: domain.ResourceOrder, orderID: p.ID.String(), order: &p}, nil
	}
}
