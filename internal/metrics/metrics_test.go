package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(HTTPMiddleware())
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "ledger down")
	})
	e.GET("/ok", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	before := testutil.ToFloat64(httpErrorsTotal.WithLabelValues(http.MethodGet, "/boom", "502"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, before+1, testutil.ToFloat64(httpErrorsTotal.WithLabelValues(http.MethodGet, "/boom", "502")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/ok", "200")), 1.0)
}

func TestSessionMetrics(t *testing.T) {
	sm := NewSessionMetrics(nil)

	sm.SetState("authenticated")
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionState.WithLabelValues("authenticated")))
	assert.Equal(t, 0.0, testutil.ToFloat64(sessionState.WithLabelValues("signed_out")))

	before := testutil.ToFloat64(syncRefreshesTotal.WithLabelValues("fee", "stale"))
	sm.RecordStaleDiscard("fee")
	assert.Equal(t, before+1, testutil.ToFloat64(syncRefreshesTotal.WithLabelValues("fee", "stale")))

	sm.RecordSync("balance", true, time.Millisecond)
	assert.Greater(t, testutil.ToFloat64(syncLastSuccessTimestamp.WithLabelValues("balance")), 0.0)

	before = testutil.ToFloat64(withdrawalsTotal.WithLabelValues("rejected"))
	sm.RecordWithdrawal("rejected", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(withdrawalsTotal.WithLabelValues("rejected")))
}

func TestStartMetricsServerDisabled(t *testing.T) {
	s := StartMetricsServer(Config{Enabled: false}, nil)
	assert.Nil(t, s)
	assert.NoError(t, s.Stop(context.Background()))
}

type fakeStatsd struct {
	counts  map[string]int
	timings []string
	gauges  map[string]float64
}

func (f *fakeStatsd) Incr(name string, tags []string, _ float64) error {
	f.counts[name+"|"+strings.Join(tags, ",")]++
	return nil
}

func (f *fakeStatsd) Timing(name string, _ time.Duration, _ []string, _ float64) error {
	f.timings = append(f.timings, name)
	return nil
}

func (f *fakeStatsd) Gauge(name string, value float64, tags []string, _ float64) error {
	f.gauges[name+"|"+strings.Join(tags, ",")] = value
	return nil
}

func TestSessionMetricsStatsdMirror(t *testing.T) {
	sd := &fakeStatsd{counts: map[string]int{}, gauges: map[string]float64{}}
	sm := NewSessionMetrics(sd)

	sm.RecordSync("balance", false, time.Millisecond)
	sm.RecordWithdrawal("invalid", 0)
	sm.RecordWithdrawal("success", time.Millisecond)
	sm.SetState("signed_out")

	assert.Equal(t, 1, sd.counts["sync.refreshes|field:balance,status:error"])
	assert.Equal(t, 1, sd.counts["withdraw.withdrawals|outcome:invalid"])
	assert.Equal(t, []string{"sync.refresh_duration", "withdraw.dispatch_duration"}, sd.timings)
	assert.Equal(t, 1.0, sd.gauges["session.state|state:signed_out"])
	assert.Equal(t, 0.0, sd.gauges["session.state|state:authenticated"])
}

func TestNewStatsdClientDisabled(t *testing.T) {
	client, err := NewStatsdClient(DataDogConfig{})
	assert.NoError(t, err)
	assert.Nil(t, client)
}
