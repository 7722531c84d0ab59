package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordRecruit_LabelsByOutcome は採用結果ごとにカウントされることを検証する。
func TestRecordRecruit_LabelsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRecruit(OutcomeSuccess)
	c.RecordRecruit(OutcomeSuccess)
	c.RecordRecruit(OutcomeInsufficientFunds)

	if got := testutil.ToFloat64(c.recruits.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.recruits.WithLabelValues(OutcomeInsufficientFunds)); got != 1 {
		t.Errorf("insufficient_funds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.recruits.WithLabelValues(OutcomeAlreadyRecruited)); got != 0 {
		t.Errorf("already_recruited = %v, want 0", got)
	}
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUnsubscribe()
	c.RecordDeleteBlocked()
	c.RecordDeleteBlocked()
	c.RecordChat(true)
	c.RecordChat(false)
	c.RecordChat(false)
	c.RecordSessionsCleaned(5)
	c.RecordHTTPStatus(402)

	if got := testutil.ToFloat64(c.unsubscribes); got != 1 {
		t.Errorf("unsubscribes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.deleteBlocked); got != 2 {
		t.Errorf("deleteBlocked = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.chats.WithLabelValues("false")); got != 2 {
		t.Errorf("chats{fallback=false} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.chats.WithLabelValues("true")); got != 1 {
		t.Errorf("chats{fallback=true} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sessionCleaned); got != 5 {
		t.Errorf("sessionCleaned = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.httpStatus.WithLabelValues("402")); got != 1 {
		t.Errorf("http 402 = %v, want 1", got)
	}
}

func TestRecordGatewayLatency_Observes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGatewayLatency(1500 * time.Millisecond)

	if n := testutil.CollectAndCount(c.gatewayLatency); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

// TestHandler_ServesMetrics はスクレイプ時にメトリクス名が含まれることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRecruit(OutcomeSuccess)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "companionhub_recruit_total") {
		t.Error("response should contain companionhub_recruit_total metric")
	}
}

// 同一レジストリへの二重登録はpanicすること
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}
