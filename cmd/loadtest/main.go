// Load driver for the realtime layer: registers user pairs, connects each
// over the websocket, and has them exchange messages through the REST
// producer while counting the pushes that come back.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "server base URL")
	wsURL     = flag.String("ws", "ws://localhost:8080/ws", "websocket URL")
	pairCount = flag.Int("pairs", 50, "user pairs to simulate")
	msgCount  = flag.Int("messages", 20, "messages per user")
)

type authResponse struct {
	Token    string `json:"access_token"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

type serverEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var received atomic.Int64

func main() {
	flag.Parse()
	log.Printf("starting load test: %d users, %d messages each", *pairCount*2, *msgCount)

	var wg sync.WaitGroup
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}
	wg.Wait()

	log.Printf("load test complete: %d pushes received", received.Load())
}

func runPair(pairID int) {
	userA := fmt.Sprintf("lt_%d_a", pairID)
	userB := fmt.Sprintf("lt_%d_b", pairID)
	pass := "password123"

	tokenA, idA := authenticate(userA, pass)
	tokenB, idB := authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go chatLoop(&wsWg, tokenA, idB, userA)
	go chatLoop(&wsWg, tokenB, idA, userB)
	wsWg.Wait()
}

func authenticate(username, password string) (string, string) {
	// Register, ignoring "already exists" failures from earlier runs.
	postJSON("/register", "", map[string]string{
		"username": username,
		"email":    username + "@loadtest.local",
		"password": password,
	})

	resp, err := postJSON("/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return "", ""
	}
	defer resp.Body.Close()

	var data authResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token, data.ID
}

func chatLoop(wg *sync.WaitGroup, token, partnerID, user string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL+"?token="+token, nil)
	if err != nil {
		log.Printf("ws connect failed [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	// The first frame must be the snapshot.
	var first serverEvent
	if err := conn.ReadJSON(&first); err != nil || first.Type != "initial_data" {
		log.Printf("no initial_data [%s]: type=%q err=%v", user, first.Type, err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev serverEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			if ev.Type == "new_message" {
				received.Add(1)
			}
		}
	}()

	conn.WriteJSON(map[string]any{"action": "ping"})

	for i := 0; i < *msgCount; i++ {
		_, err := postJSON("/api/messages", token, map[string]string{
			"receiver_id": partnerID,
			"content":     fmt.Sprintf("hello %d from %s", i, user),
		})
		if err != nil {
			log.Printf("send failed [%s]: %v", user, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Give the last pushes time to land before tearing down.
	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
}

func postJSON(path, token string, body any) (*http.Response, error) {
	data, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, *baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return resp, nil
}
