package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func TestWriteAnswerText(t *testing.T) {
	var buf bytes.Buffer
	resp := &models.ChatResponse{
		SessionID: "s1",
		Answer:    "Freshmen must take ENG101 and MATH110.",
		Sources:   []string{"chunk-a", "chunk-b"},
		Timestamp: time.Now(),
	}
	if err := WriteAnswer(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "ENG101") {
		t.Errorf("answer missing: %s", out)
	}
	if !strings.Contains(out, "1. chunk-a") || !strings.Contains(out, "2. chunk-b") {
		t.Errorf("sources missing: %s", out)
	}
}

func TestWriteAnswerJSON(t *testing.T) {
	var buf bytes.Buffer
	resp := &models.ChatResponse{SessionID: "s1", Answer: "hello"}
	if err := WriteAnswer(&buf, resp, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.ChatResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Answer != "hello" || decoded.SessionID != "s1" {
		t.Errorf("round trip: %+v", decoded)
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat(""); err != nil || f != OutputText {
		t.Errorf("empty: %v %v", f, err)
	}
	if f, err := ParseOutputFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("json: %v %v", f, err)
	}
	if _, err := ParseOutputFormat("xml"); err == nil {
		t.Error("xml should be rejected")
	}
}

func TestWriteStatsText(t *testing.T) {
	var buf bytes.Buffer
	stats := &models.Stats{Documents: 3, Chunks: 12, VectorIndexSize: 12, IndexBackend: "memory"}
	if err := WriteStats(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Documents:         3") {
		t.Errorf("output: %s", buf.String())
	}
}
