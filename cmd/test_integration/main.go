// Smoke driver for a locally running workbench server. Expects the
// workbench on :8080 and streamsim on :9000 (see cmd/streamsim).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const baseURL = "http://localhost:8080"

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting Integration Test...")

	// 1. Open a session against the simulated job stream
	fmt.Println("1. Opening Session...")
	if !sendRequest("POST", "/sessions", map[string]string{
		"job_id":     "demo",
		"project_id": "smoke",
	}, http.StatusCreated) {
		fmt.Println("FAILED: Open session")
		os.Exit(1)
	}
	fmt.Println("PASSED: Open session")

	// 2. Wait for streamed updates to land, then fetch the graph
	fmt.Println("2. Fetching Graph...")
	var edgeID string
	for i := 0; i < 20; i++ {
		time.Sleep(500 * time.Millisecond)
		view := fetchGraph()
		if view != nil && len(view.Edges) > 0 {
			edgeID = view.Edges[0].ID
			fmt.Printf("Graph has %d nodes, %d edges\n", len(view.Nodes), len(view.Edges))
			break
		}
	}
	if edgeID == "" {
		fmt.Println("FAILED: Graph never received streamed edges")
		os.Exit(1)
	}
	fmt.Println("PASSED: Fetch graph")

	// 3. Redline edit: mutations are rejected until the mode is active
	fmt.Println("3. Redline Edit...")
	if sendRequest("POST", "/mutations", map[string]string{
		"kind": "delete_edge", "id": edgeID,
	}, http.StatusOK) {
		fmt.Println("FAILED: Mutation accepted in read-only mode")
		os.Exit(1)
	}
	if !sendRequest("POST", "/redline", map[string]bool{"active": true}, http.StatusOK) {
		fmt.Println("FAILED: Enable redline mode")
		os.Exit(1)
	}
	if !sendRequest("POST", "/mutations", map[string]string{
		"kind": "delete_edge", "id": edgeID,
	}, http.StatusOK) {
		fmt.Println("FAILED: Delete edge")
		os.Exit(1)
	}
	fmt.Println("PASSED: Redline edit")

	// 4. Merge two entities
	fmt.Println("4. Merging Entities...")
	if !sendRequest("POST", "/merge/select", map[string]string{
		"source_id": "ibuprofen", "target_id": "aspirin",
	}, http.StatusOK) {
		fmt.Println("FAILED: Merge selection")
		os.Exit(1)
	}
	if !sendRequest("POST", "/merge/confirm", nil, http.StatusOK) {
		fmt.Println("FAILED: Merge confirm")
		os.Exit(1)
	}
	fmt.Println("PASSED: Merge")

	// 5. Close the session
	fmt.Println("5. Closing Session...")
	if !sendRequest("DELETE", "/sessions", nil, http.StatusOK) {
		fmt.Println("FAILED: Close session")
		os.Exit(1)
	}
	fmt.Println("PASSED: Close session")
}

type graphView struct {
	Nodes []struct {
		ID string `json:"id"`
	} `json:"nodes"`
	Edges []struct {
		ID string `json:"id"`
	} `json:"edges"`
}

func fetchGraph() *graphView {
	resp, err := http.Get(baseURL + "/graph")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var view graphView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil
	}
	return &view
}

func sendRequest(method, endpoint string, payload interface{}, wantStatus int) bool {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		fmt.Printf("Request %s %s returned status %d: %s\n", method, endpoint, resp.StatusCode, string(respBody))
		return false
	}
	fmt.Printf("Response: %s\n", string(respBody))
	return true
}
