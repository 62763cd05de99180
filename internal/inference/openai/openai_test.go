package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/inference"
)

// sentRequest is the part of the chat completions request the tests check.
type sentRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	N           int     `json:"n"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
	ToolChoice struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tool_choice"`
}

func TestCall(t *testing.T) {
	var got sentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"infer_transactions","arguments":"{\"title\":\"coffee\",\"currency\":\"USD\",\"amount\":\"5\"}"}},
			{"id":"call_2","type":"function","function":{"name":"infer_transactions","arguments":"{\"title\":\"cake\",\"currency\":\"USD\",\"amount\":\"3\"}"}}
		]}}]}`))
	}))
	defer server.Close()

	p, err := New(Options{APIKey: "sk-test", BaseURL: server.URL + "/"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	args, completion, err := p.Call(context.Background(), "coffee 5 and cake 3", inference.TransactionsTool([]string{"USD"}))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if got.Model != DefaultModel || got.MaxTokens != 500 || got.Temperature < 0.39 || got.Temperature > 0.41 || got.N != 1 {
		t.Errorf("unexpected request parameters: %+v", got)
	}
	if len(got.Tools) != 1 || got.Tools[0].Type != "function" || got.Tools[0].Function.Name != inference.TransactionsToolName {
		t.Errorf("unexpected tools: %+v", got.Tools)
	}
	if got.Tools[0].Function.Parameters["type"] != "object" {
		t.Errorf("tool parameters not sent as schema: %+v", got.Tools[0].Function.Parameters)
	}
	if got.ToolChoice.Type != "function" || got.ToolChoice.Function.Name != inference.TransactionsToolName {
		t.Errorf("tool choice = %+v", got.ToolChoice)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "coffee 5 and cake 3" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
	if len(args) != 2 || !strings.Contains(args[0], "coffee") || !strings.Contains(args[1], "cake") {
		t.Errorf("args = %v", args)
	}
	if !strings.Contains(completion, "chatcmpl-1") {
		t.Errorf("completion should be the encoded response, got %s", completion)
	}
}

func TestCall_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer server.Close()

	p, _ := New(Options{APIKey: "k", BaseURL: server.URL}, zerolog.Nop())
	_, _, err := p.Call(context.Background(), "x", inference.CategoryTool(nil))
	if err == nil {
		t.Fatal("expected an error")
	}
	if code := StatusCode(err); code != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429 (err %v)", code, err)
	}
}

func TestStatusCode_NonAPIError(t *testing.T) {
	if code := StatusCode(context.Canceled); code != 0 {
		t.Errorf("StatusCode = %d, want 0", code)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
