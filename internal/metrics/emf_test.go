package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "prediction-lambda"
	t.Cleanup(func() { functionName = "" })

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("namespace = %s, want TestNamespace", r.namespace)
	}
	if r.dimensions["FunctionName"] != "prediction-lambda" {
		t.Errorf("FunctionName dimension = %s, want prediction-lambda", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	initOnce.Do(func() {})
	functionName = ""
	buf := captureOutput(t)

	New(Namespace).
		Dimension("Stage", "Inpainting").
		Metric("StageLatencyMs", 1234.5, UnitMilliseconds).
		Count("CallCount").
		Property("runId", "abc-123").
		Flush()

	line := strings.TrimSpace(buf.String())
	if strings.Count(line, "\n") != 0 {
		t.Fatalf("EMF output must be one line, got %q", line)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, line)
	}
	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := aws["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cw := aws["CloudWatchMetrics"].([]any)[0].(map[string]any)
	if cw["Namespace"] != Namespace {
		t.Errorf("Namespace = %v, want %s", cw["Namespace"], Namespace)
	}
	if doc["Stage"] != "Inpainting" {
		t.Errorf("Stage = %v, want Inpainting", doc["Stage"])
	}
	if doc["StageLatencyMs"] != 1234.5 {
		t.Errorf("StageLatencyMs = %v, want 1234.5", doc["StageLatencyMs"])
	}
	if doc["CallCount"] != 1.0 {
		t.Errorf("CallCount = %v, want 1", doc["CallCount"])
	}
	if doc["runId"] != "abc-123" {
		t.Errorf("runId = %v, want abc-123", doc["runId"])
	}
}

func TestRecorder_FlushWithoutMetrics(t *testing.T) {
	buf := captureOutput(t)
	New(Namespace).Dimension("Stage", "Generating").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestRunCompleted_EmitsTwoDocuments(t *testing.T) {
	buf := captureOutput(t)
	RunCompleted("Done", 3*time.Second, true, "run-1")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[1], `"Matched":"true"`) {
		t.Errorf("second document should carry Matched=true, got %s", lines[1])
	}
}
