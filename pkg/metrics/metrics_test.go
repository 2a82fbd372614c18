package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(unitsTotal.WithLabelValues("Net_Gen_By_Fuel_MWh", OutcomeFellBack))
	IncUnit("Net_Gen_By_Fuel_MWh", OutcomeFellBack)
	IncUnit("Net_Gen_By_Fuel_MWh", OutcomeFellBack)
	assert.Equal(t, before+2, testutil.ToFloat64(unitsTotal.WithLabelValues("Net_Gen_By_Fuel_MWh", OutcomeFellBack)))

	ObserveRun(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(lastRunFailures))
	ObserveRun(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(lastRunFailures))

	ObserveFit("naive", 5*time.Millisecond)
	ObserveStage("forecast", time.Second)
	IncFetch("")
}

func TestHandler(t *testing.T) {
	IncFetch("ok")

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "emissions_fetch_total")
}
