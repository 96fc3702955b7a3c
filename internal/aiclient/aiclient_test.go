package aiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "cronpilot/internal/aiclient"
	execrunner "cronpilot/internal/executor/runner"
	"cronpilot/internal/models"
)

func TestClient_GenerateCronExpression_ReturnsParsedExpression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schedule/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(CronResponse{CronExpression: "0 9 * * 1-5", Confidence: 0.9})
	}))
	defer srv.Close()

	c := New(srv.URL)
	expr, err := c.GenerateCronExpression(context.Background(), "weekday mornings", nil, "0 0 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expr != "0 9 * * 1-5" {
		t.Fatalf("expected the server's generated expression, got %q", expr)
	}
}

func TestClient_GenerateCronExpression_PropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.GenerateCronExpression(context.Background(), "x", nil, "0 0 * * *"); err == nil {
		t.Fatal("expected a 500 response to surface as an error")
	}
}

func TestClient_PredictFailure_ReturnsDecodedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PredictionResponse{TaskID: "t-1", FailureProbability: 0.42, Decision: "proceed"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.PredictFailure(context.Background(), "t-1", map[string]interface{}{"recent_failures": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != "proceed" || resp.FailureProbability != 0.42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPromptRunner_Run_MapsSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PromptResponse{Output: "done", CostUSD: 0.01})
	}))
	defer srv.Close()

	runner := NewPromptRunner(New(srv.URL))
	task := &models.Task{Kind: models.TaskKindAIPrompt, Config: models.TaskConfig{Prompt: "summarize logs"}}
	result := runner.Run(context.Background(), task, nil, execrunner.NopSink{})

	if result.ExitCode != 0 || result.Output != "done" {
		t.Fatalf("expected a successful mapped result, got %+v", result)
	}
}

func TestPromptRunner_Run_MapsApplicationErrorToNonZeroExit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PromptResponse{Error: "model refused"})
	}))
	defer srv.Close()

	runner := NewPromptRunner(New(srv.URL))
	task := &models.Task{Kind: models.TaskKindAIPrompt, Config: models.TaskConfig{Prompt: "x"}}
	result := runner.Run(context.Background(), task, nil, execrunner.NopSink{})

	if result.ExitCode != 1 || result.Error != "model refused" {
		t.Fatalf("expected an application error to map to exit code 1, got %+v", result)
	}
}

func TestPromptRunner_Run_MapsTransportErrorToExitCodeMinusOne(t *testing.T) {
	runner := NewPromptRunner(New("http://127.0.0.1:0"))
	task := &models.Task{Kind: models.TaskKindAIPrompt, Config: models.TaskConfig{Prompt: "x"}}
	result := runner.Run(context.Background(), task, nil, execrunner.NopSink{})

	if result.ExitCode != -1 || result.Error == "" {
		t.Fatalf("expected a transport failure to map to exit code -1 with an error, got %+v", result)
	}
}
