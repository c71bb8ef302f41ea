package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdSpendHandler_Record(t *testing.T) {
	newEngine := func(t *testing.T, svc *fakeAdSpend) *gin.Engine {
		h := NewAdSpendHandler(svc)
		engine := shopEngine(newTestShop(t))
		engine.PUT("/ad-spend", h.Record)
		return engine
	}

	t.Run("records entries and reports recomputed dates", func(t *testing.T) {
		svc := &fakeAdSpend{}
		engine := newEngine(t, svc)

		w := doJSON(engine, http.MethodPut, "/ad-spend", `{"entries":[
			{"date":"2024-03-10","channel":"meta","amount":"120.50"},
			{"date":"2024-03-10","channel":"google","amount":"80","currency":"EUR"},
			{"date":"2024-03-11","channel":"meta","amount":"95"}
		]}`)

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, svc.entries, 3)
		assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), svc.entries[0].Date)
		assert.True(t, decimal.RequireFromString("120.5").Equal(svc.entries[0].Amount))
		assert.Equal(t, "EUR", svc.entries[1].Currency)

		data := decode(t, w).Data.(map[string]any)
		assert.Equal(t, float64(3), data["entries"])
		assert.Equal(t, []any{"2024-03-10", "2024-03-11"}, data["recomputed_dates"])
	})

	invalid := map[string]string{
		"empty":        `{"entries":[]}`,
		"missing date": `{"entries":[{"channel":"meta","amount":"1"}]}`,
		"bad date":     `{"entries":[{"date":"10/03/2024","channel":"meta","amount":"1"}]}`,
		"bad currency": `{"entries":[{"date":"2024-03-10","channel":"meta","amount":"1","currency":"EURO"}]}`,
	}
	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			svc := &fakeAdSpend{}
			w := doJSON(newEngine(t, svc), http.MethodPut, "/ad-spend", body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, dto.ErrCodeValidation, decode(t, w).Error.Code)
			assert.Nil(t, svc.entries)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		w := doJSON(newEngine(t, &fakeAdSpend{}), http.MethodPut, "/ad-spend", `{"entries":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decode(t, w).Error.Code)
	})
}
