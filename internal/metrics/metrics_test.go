package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordReportOutcomes(t *testing.T) {
	created := testutil.ToFloat64(reportsCreated.WithLabelValues("created"))
	existing := testutil.ToFloat64(reportsCreated.WithLabelValues("existing"))

	RecordReport(true)
	RecordReport(false)
	RecordReport(false)

	if got := testutil.ToFloat64(reportsCreated.WithLabelValues("created")) - created; got != 1 {
		t.Fatalf("created delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reportsCreated.WithLabelValues("existing")) - existing; got != 2 {
		t.Fatalf("existing delta = %v, want 2", got)
	}
}

func TestHandlerExposesBuffaloMetrics(t *testing.T) {
	RecordDispatch("dispatch", "ok", 25*time.Millisecond)
	RecordCallback("user-input-request", http.StatusOK)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"buffalo_dispatch_requests_total", "buffalo_dispatch_duration_seconds", "buffalo_callback_requests_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
