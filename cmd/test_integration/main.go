// Smoke test client for a running canopy server: resolves a few mentions,
// asserts a contradicting fact pair, and walks the conflict review flow.
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

	fmt.Println("Starting smoke test...")

	// 1. Resolve mentions
	fmt.Println("1. Resolving mentions...")
	resolveBody := map[string]any{
		"mentions": []map[string]any{
			{
				"mention_id":        "smoke-m1",
				"entity_type":       "metabolite",
				"document_id":       "smoke-doc-1",
				"normalized_text":   "quercetin",
				"source_confidence": 0.95,
			},
			{
				"mention_id":        "smoke-m2",
				"entity_type":       "metabolite",
				"document_id":       "smoke-doc-2",
				"normalized_text":   "quercitin",
				"source_confidence": 0.9,
			},
		},
	}
	resolved := post("/resolve", resolveBody)
	fmt.Printf("   -> %s\n", resolved)

	// 2. Assert a fact, then a contradicting one
	fmt.Println("2. Asserting contradicting facts...")
	fact := map[string]any{
		"cluster_id":        "smoke-cluster",
		"predicate":         "primary_accumulation_site",
		"object_concept_id": "po:leaf",
		"document_id":       "smoke-doc-1",
		"observed_at":       time.Now().UTC().Format(time.RFC3339),
		"confidence":        0.9,
	}
	post("/facts", fact)
	fact["object_concept_id"] = "po:root"
	fact["document_id"] = "smoke-doc-2"
	conflicted := post("/facts", fact)
	fmt.Printf("   -> %s\n", conflicted)

	// 3. Review open conflicts
	fmt.Println("3. Listing open conflicts...")
	var conflicts struct {
		Conflicts []struct {
			ConflictID string `json:"conflict_id"`
			Kind       string `json:"kind"`
		} `json:"conflicts"`
	}
	mustUnmarshal(get("/conflicts"), &conflicts)
	fmt.Printf("   -> %d open\n", len(conflicts.Conflicts))

	// 4. Justify and close the first conflict
	if len(conflicts.Conflicts) > 0 {
		id := conflicts.Conflicts[0].ConflictID
		fmt.Printf("4. Justifying and closing conflict %s...\n", id)
		fmt.Printf("   -> %s\n", post("/conflicts/"+id+"/justify", nil))
		post("/conflicts/"+id+"/close", map[string]any{"resolution": "smoke test disposition"})
	}

	// 5. Maintenance passes and metrics
	fmt.Println("5. Maintenance and metrics...")
	post("/unresolved/retry", nil)
	post("/maintenance/dedupe", nil)
	fmt.Printf("   -> %s\n", get("/metrics"))

	fmt.Println("Smoke test complete.")
}

func post(path string, body any) string {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		fail(err)
		reader = bytes.NewReader(data)
	}
	resp, err := http.Post(baseURL+path, "application/json", reader)
	fail(err)
	return read(resp)
}

func get(path string) string {
	resp, err := http.Get(baseURL + path)
	fail(err)
	return read(resp)
}

func read(resp *http.Response) string {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	fail(err)
	if resp.StatusCode >= 400 {
		fmt.Printf("   !! HTTP %d: %s\n", resp.StatusCode, data)
	}
	return string(data)
}

func mustUnmarshal(data string, v any) {
	fail(json.Unmarshal([]byte(data), v))
}

func fail(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "smoke test failed: %v\n", err)
		os.Exit(1)
	}
}
