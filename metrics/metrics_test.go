package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/currency-engine/economy"
)

func TestCollector_TransactionCompleted(t *testing.T) {
	c := NewCollector(nil)

	c.TransactionCompleted(economy.TransactionResult{
		Operation: economy.OpDeposit,
		Status:    economy.StatusSuccess,
	}, 5*time.Millisecond)
	c.TransactionCompleted(economy.TransactionResult{
		Operation: economy.OpWithdraw,
		Status:    economy.StatusFailure,
		Kind:      economy.KindInsufficientFunds,
	}, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Transactions.WithLabelValues("deposit", "success", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Transactions.WithLabelValues("withdraw", "failure", "insufficient_funds")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.TransactionLatency))
}

func TestCollector_ManagementAndAudit(t *testing.T) {
	c := NewCollector(func() int { return 3 })

	c.ManagementCompleted("create_currency", economy.ManagementResult{OK: true})
	c.ManagementCompleted("create_currency", economy.ManagementResult{OK: false})
	c.AuditWritten(nil)
	c.AuditWritten(errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Management.WithLabelValues("create_currency", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Management.WithLabelValues("create_currency", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AuditWrites.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Currencies))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.AuditWritten(nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "economy_audit_writes_total"))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	c.AuditWritten(nil)
	c.ManagementCompleted("x", economy.ManagementResult{})
	c.TransactionCompleted(economy.TransactionResult{}, 0)
}
