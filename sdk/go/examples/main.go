package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentHub/sdk/go/agenthub"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/company-agents", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agenthub.Agent{
			AgentID:      "agent-demo",
			CompanyID:    "acme",
			AgentName:    "Acme Support",
			Port:         8001,
			Status:       "running",
			Capabilities: []string{"calculator", "customer_support"},
		})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agenthub.ChatResponse{
			ID:      "chat-demo",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   "asi1-mini",
			Choices: []agenthub.ChatChoice{{
				Message:      agenthub.ChatMessage{Role: "assistant", Content: "2 + 3 = 5"},
				FinishReason: "stop",
			}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := agenthub.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agent, err := client.CreateAgent(ctx, agenthub.CreateAgentRequest{
		CompanyID:    "acme",
		CompanyName:  "Acme",
		AgentName:    "Acme Support",
		Capabilities: []string{"calculator", "customer_support"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("created agent %s on port %d (status=%s)\n", agent.AgentID, agent.Port, agent.Status)

	resp, err := client.ChatCompletion(ctx, agent.AgentID, agenthub.ChatRequest{
		Messages: []agenthub.ChatMessage{{Role: "user", Content: "What is 2 + 3?"}},
	}, "demo-session")
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent replied: %s\n", resp.Content())
}
