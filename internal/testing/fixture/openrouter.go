// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fixture

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// OpenRouter is a fake chat completions endpoint. It answers every request
// with Reply, streaming it when the request asks for a stream.
type OpenRouter struct {
	*httptest.Server

	mu       sync.Mutex
	reply    string
	requests []map[string]any
}

// NewOpenRouter starts the fake and points OPENROUTER_BASE_URL and
// OPENROUTER_API_KEY at it for the rest of the test.
func NewOpenRouter(t testing.TB, reply string) *OpenRouter {
	t.Helper()
	f := &OpenRouter{reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", f.chat)
	mux.HandleFunc("GET /models", f.models)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)

	t.Setenv("OPENROUTER_BASE_URL", f.URL)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-fixture-0000000000000000000000")
	return f
}

// SetReply changes the answer for later requests.
func (f *OpenRouter) SetReply(reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = reply
}

// Requests returns the decoded request bodies received so far.
func (f *OpenRouter) Requests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

func (f *OpenRouter) chat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, body)
	reply := f.reply
	f.mu.Unlock()

	model, _ := body["model"].(string)
	content, _ := json.Marshal(reply)

	if stream, _ := body["stream"].(bool); stream {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"model\":%q,\"choices\":[{\"delta\":{\"content\":%s},\"finish_reason\":\"stop\"}]}\n\n", model, content)
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"gen-1","model":%q,"choices":[{"message":{"content":%s},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`, model, content)
}

func (f *OpenRouter) models(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"data":[`+
		`{"id":"cheap-a","name":"Cheap A","context_length":8000,"pricing":{"prompt":"0.0000001","completion":"0.0000002"}},`+
		`{"id":"premium-a","name":"Premium A","context_length":128000,"pricing":{"prompt":"0.000003","completion":"0.000015"}}]}`)
}
