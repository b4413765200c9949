package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.IncRuns(OutcomePublished)
	m.ObserveStage("build", 1.5)
	m.IncAssetUploads(AssetSkipped)
	m.AddShardsLoaded("linux-64", 16)
}

func TestPromMetrics(t *testing.T) {
	m := NewProm("shardpub")
	m.IncRuns(OutcomePublished)
	m.IncRuns(OutcomeExists)
	m.IncRuns(OutcomeExists)
	m.IncAssetUploads(AssetUploaded)
	m.AddShardsLoaded("linux-64", 16)
	m.ObserveStage("build", 2)

	if got := testutil.ToFloat64(m.runs.WithLabelValues(OutcomeExists)); got != 2 {
		t.Errorf("expected 2 exists runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.shardsLoaded.WithLabelValues("linux-64")); got != 16 {
		t.Errorf("expected 16 loaded shards, got %v", got)
	}
	if n := testutil.CollectAndCount(m.stages); n != 1 {
		t.Errorf("expected 1 stage series, got %d", n)
	}

	expected := `
# HELP shardpub_asset_uploads_total Release asset uploads by result
# TYPE shardpub_asset_uploads_total counter
shardpub_asset_uploads_total{result="uploaded"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "shardpub_asset_uploads_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestPromInstancesAreIndependent(t *testing.T) {
	a := NewProm("shardpub")
	b := NewProm("shardpub")
	a.IncRuns(OutcomeFailed)

	if got := testutil.ToFloat64(b.runs.WithLabelValues(OutcomeFailed)); got != 0 {
		t.Errorf("expected separate registries, got %v", got)
	}
}

func TestPush(t *testing.T) {
	var path, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewProm("shardpub")
	m.IncRuns(OutcomePublished)
	if err := m.Push(server.URL, "shardpub", map[string]string{"subdir": "linux-64"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if path != "/metrics/job/shardpub/subdir/linux-64" {
		t.Errorf("unexpected push path %s", path)
	}
	if body == "" {
		t.Error("expected a metrics payload")
	}
}

func TestPushFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := NewProm("shardpub").Push(server.URL, "shardpub", nil); err == nil {
		t.Error("expected error from failing gateway")
	}
}
