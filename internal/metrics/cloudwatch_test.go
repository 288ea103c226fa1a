package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"dexflow/logger"
)

// capturePublishes enables a fake CloudWatch client with a 50ms interval and
// returns the captured batches plus a clock setter.
func capturePublishes(t *testing.T) (*[][]cwtypes.MetricDatum, func(time.Duration)) {
	t.Helper()
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	base := time.Unix(1_700_000_000, 0)
	timeNow = func() time.Time { return base }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		batches = append(batches, append([]cwtypes.MetricDatum(nil), data...))
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	return &batches, func(d time.Duration) { timeNow = func() time.Time { return base.Add(d) } }
}

func dims(datum cwtypes.MetricDatum) map[string]string {
	out := make(map[string]string, len(datum.Dimensions))
	for _, d := range datum.Dimensions {
		out[*d.Name] = *d.Value
	}
	return out
}

func TestDispatchThrottledPerNetwork(t *testing.T) {
	batches, advance := capturePublishes(t)

	tlos := Metric{Component: "registry", Network: "tlos", Action: "convert", Result: "success", Name: "dispatch"}
	usds := tlos
	usds.Network = "usds"

	publishMetricDatum(tlos, 1)
	publishMetricDatum(usds, 1)
	advance(25 * time.Millisecond)
	publishMetricDatum(tlos, 2)

	if len(*batches) != 2 {
		t.Fatalf("expected one publish per network, got %d", len(*batches))
	}
	if got := dims((*batches)[1][0])["network"]; got != "usds" {
		t.Fatalf("second publish network = %q", got)
	}

	advance(60 * time.Millisecond)
	publishMetricDatum(tlos, 3)
	if len(*batches) != 3 {
		t.Fatalf("expected publish after interval, got %d", len(*batches))
	}
	if v := (*batches)[2][0].Value; v == nil || *v != 3 {
		t.Fatalf("unexpected value after interval: %v", v)
	}
}

func TestActionsThrottledSeparately(t *testing.T) {
	batches, _ := capturePublishes(t)

	base := Metric{Component: "registry", Network: "tlos", Name: "dispatch"}
	for _, action := range []string{"convert", "create_pool", "convert"} {
		m := base
		m.Action = action
		publishMetricDatum(m, 1)
	}
	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
}

func TestPublishedDimensionsAndUnit(t *testing.T) {
	batches, _ := capturePublishes(t)

	m := newMetric("pricecache", "price_refresh_ms", int64(12), "gauge", logger.Fields{
		"key":    "usd_price",
		"result": "error",
		"unit":   "ms",
	})
	publishMetricDatum(m, 12)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.Unit != cwtypes.StandardUnitMilliseconds {
		t.Fatalf("unit = %s", datum.Unit)
	}
	got := dims(datum)
	want := map[string]string{"component": "pricecache", "result": "error", "key": "usd_price"}
	if len(got) != len(want) {
		t.Fatalf("dimensions = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("dimension %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestPublishSkippedWithoutClient(t *testing.T) {
	batches, _ := capturePublishes(t)
	cwState.Store(&cloudWatchState{namespace: "Dexflow"})

	publishMetricDatum(Metric{Component: "registry", Name: "module_init"}, 1)
	if len(*batches) != 0 {
		t.Fatalf("published without a client: %d", len(*batches))
	}
}
