//go:build integration

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
)

func baseURL() string {
	if addr := os.Getenv("TEST_ADDR"); addr != "" {
		return addr
	}
	return "http://localhost:7890"
}

func TestHealth(t *testing.T) {
	resp, err := http.Get(baseURL() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAddDisableDeleteApplication(t *testing.T) {
	body := `{"title":"demo","url":"http://127.0.0.1:1"}`
	resp, err := http.Post(baseURL()+"/api/applications", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/applications: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a non-empty application id")
	}

	disableResp, err := http.Post(baseURL()+"/api/applications/"+created.ID+"/disable", "application/json", nil)
	if err != nil {
		t.Fatalf("POST disable: %v", err)
	}
	defer disableResp.Body.Close()
	if disableResp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", disableResp.StatusCode)
	}

	listResp, err := http.Get(baseURL() + "/api/applications")
	if err != nil {
		t.Fatalf("GET /api/applications: %v", err)
	}
	defer listResp.Body.Close()
	var apps map[string]json.RawMessage
	if err := json.NewDecoder(listResp.Body).Decode(&apps); err != nil {
		t.Fatalf("decode applications: %v", err)
	}
	if _, ok := apps[created.ID]; !ok {
		t.Errorf("expected %s in applications listing", created.ID)
	}

	req, err := http.NewRequest(http.MethodDelete, baseURL()+"/api/applications/"+created.ID, nil)
	if err != nil {
		t.Fatalf("new delete request: %v", err)
	}
	deleteResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/applications/%s: %v", created.ID, err)
	}
	defer deleteResp.Body.Close()
	if deleteResp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", deleteResp.StatusCode)
	}
}
