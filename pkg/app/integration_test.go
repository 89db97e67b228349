package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/osvaldoandrade/captionq/internal/services"
	"github.com/osvaldoandrade/captionq/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

const circleSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><circle cx="5" cy="5" r="4" fill="red"/></svg>`

// newRemoteFake answers as the object store, conversion and prediction APIs.
func newRemoteFake(t *testing.T) (*httptest.Server, func(string) int) {
	t.Helper()
	var mu sync.Mutex
	calls := map[string]int{}
	count := func(k string) {
		mu.Lock()
		calls[k]++
		mu.Unlock()
	}
	var srv *httptest.Server
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/demo/image/upload", func(w http.ResponseWriter, r *http.Request) {
		count("upload")
		write(w, http.StatusOK, map[string]any{"secure_url": srv.URL + "/img/circle.svg", "bytes": len(circleSVG)})
	})
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		count("conversion_submit")
		if r.Header.Get("Authorization") != "Bearer cc-token" {
			t.Errorf("conversion auth = %q", r.Header.Get("Authorization"))
		}
		write(w, http.StatusCreated, map[string]any{"data": map[string]any{"id": "job-1"}})
	})
	mux.HandleFunc("/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		count("conversion_fetch")
		write(w, http.StatusOK, map[string]any{"data": map[string]any{
			"id": "job-1", "status": "finished",
			"tasks": []map[string]any{{
				"name": "export_png", "status": "finished",
				"result": map[string]any{"files": []map[string]any{{"url": srv.URL + "/converted/circle.png"}}},
			}},
		}})
	})
	mux.HandleFunc("/predictions", func(w http.ResponseWriter, r *http.Request) {
		count("prediction_submit")
		if r.Header.Get("Authorization") != "Token r8-token" {
			t.Errorf("prediction auth = %q", r.Header.Get("Authorization"))
		}
		write(w, http.StatusCreated, map[string]any{"id": "pred-1", "status": "starting"})
	})
	mux.HandleFunc("/predictions/pred-1", func(w http.ResponseWriter, r *http.Request) {
		count("prediction_fetch")
		write(w, http.StatusOK, map[string]any{"id": "pred-1", "status": "succeeded", "output": []string{"Caption: a red ", "circle"}})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func(k string) int {
		mu.Lock()
		defer mu.Unlock()
		return calls[k]
	}
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *apiClient) do(method, path string, body io.Reader, contentType string, header map[string]string) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func (c *apiClient) json(method, path string, v any, header map[string]string) (*http.Response, []byte) {
	c.t.Helper()
	var body io.Reader
	if v != nil {
		b, _ := json.Marshal(v)
		body = bytes.NewReader(b)
	}
	return c.do(method, path, body, "application/json", header)
}

func TestHTTPIntegrationFlow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	remote, calls := newRemoteFake(t)

	hookCh := make(chan *http.Request, 4)
	hookBodies := make(chan []byte, 4)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		hookCh <- r
		hookBodies <- b
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hookSrv.Close)

	cfg := &config.Config{
		Env:                      "test",
		LogLevel:                 "error",
		StoreBackend:             "redis",
		RedisAddr:                mr.Addr(),
		ObjectStore:              "cloudinary",
		CloudinaryBaseURL:        remote.URL,
		CloudinaryCloudID:        "demo",
		CloudinaryUploadPreset:   "preset",
		CloudConvertBaseURL:      remote.URL,
		CloudConvertSyncBaseURL:  remote.URL,
		CloudConvertAPIToken:     "cc-token",
		ReplicateBaseURL:         remote.URL,
		ReplicateAPIToken:        "r8-token",
		HTTPTimeoutSeconds:       5,
		MaxFileSizeBytes:         1024,
		PollMaxRetries:           5,
		PollRetryDelayMs:         1,
		PollBackoffPolicy:        "fixed",
		MaxConcurrentPipelines:   4,
		SessionSecret:            "integration-secret-0123",
		SessionTTLHours:          1,
		WebhookHmacSecret:        "hmac",
		ResultWebhookMaxAttempts: 2,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	app, err := NewApplication(cfg, WithRedisClient(rdb), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(server.Close)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	anon := &apiClient{t: t, base: server.URL + "/v1/captionq"}

	// create session
	resp, body := anon.json(http.MethodPost, "/sessions", map[string]string{"webhook": hookSrv.URL}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session = %d %s", resp.StatusCode, body)
	}
	var created struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Token string `json:"token"`
	}
	_ = json.Unmarshal(body, &created)
	sid := created.Session.ID
	api := &apiClient{t: t, base: anon.base, token: created.Token}

	// auth checks
	if resp, _ := anon.json(http.MethodGet, "/sessions/"+sid, nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token = %d", resp.StatusCode)
	}
	if resp, _ := api.json(http.MethodGet, "/sessions/someone-else", nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign session = %d", resp.StatusCode)
	}

	// synchronous SVG upload
	upload := map[string]string{
		"file":     "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(circleSVG)),
		"fileName": "circle.svg",
	}
	resp, body = api.json(http.MethodPost, "/sessions/"+sid+"/images?wait=true", upload, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload = %d %s", resp.StatusCode, body)
	}
	var res struct {
		ID      string `json:"id"`
		Output  string `json:"output"`
		ImageID string `json:"imageId"`
	}
	_ = json.Unmarshal(body, &res)
	if res.Output != "Caption: a red circle" || res.ImageID == "" {
		t.Errorf("result = %s", body)
	}
	if calls("conversion_submit") != 1 || calls("prediction_fetch") != 1 {
		t.Errorf("remote calls: conversion=%d fetch=%d", calls("conversion_submit"), calls("prediction_fetch"))
	}

	// webhook delivery is signed
	select {
	case r := <-hookCh:
		b := <-hookBodies
		ts, _ := strconv.ParseInt(r.Header.Get(services.HeaderTimestamp), 10, 64)
		if r.Header.Get(services.HeaderSignature) != services.Sign("hmac", ts, b) {
			t.Errorf("bad webhook signature")
		}
		if !strings.Contains(string(b), `"caption":"a red circle"`) {
			t.Errorf("webhook body = %s", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}

	// CSV export
	resp, body = api.json(http.MethodGet, "/sessions/"+sid+"/export.csv", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("export = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if want := "file name,alt text\ncircle.svg,\"a red circle\""; string(body) != want {
		t.Errorf("csv = %q, want %q", body, want)
	}

	// oversize multipart upload is rejected before any remote call
	uploadsBefore := calls("upload")
	var mp bytes.Buffer
	mw := multipart.NewWriter(&mp)
	fw, _ := mw.CreateFormFile("file", "big.png")
	_, _ = fw.Write(bytes.Repeat([]byte{0x89}, 2048))
	_ = mw.Close()
	resp, body = api.do(http.MethodPost, "/sessions/"+sid+"/images", &mp, mw.FormDataContentType(), nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize upload = %d %s", resp.StatusCode, body)
	}
	if calls("upload") != uploadsBefore {
		t.Error("oversize upload reached the object store")
	}

	// async upload with an idempotency key
	key := map[string]string{"Idempotency-Key": "abc"}
	resp, body = api.json(http.MethodPost, "/sessions/"+sid+"/images", upload, key)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("async upload = %d %s", resp.StatusCode, body)
	}
	var run1, run2 struct {
		RunID string `json:"runId"`
	}
	_ = json.Unmarshal(body, &run1)
	resp, body = api.json(http.MethodPost, "/sessions/"+sid+"/images", upload, key)
	_ = json.Unmarshal(body, &run2)
	if resp.StatusCode != http.StatusOK || run1.RunID == "" || run1.RunID != run2.RunID {
		t.Errorf("replayed upload = %d, runs %q %q", resp.StatusCode, run1.RunID, run2.RunID)
	}
	if err := app.Pipeline.Close(context.Background()); err != nil {
		t.Fatalf("drain pipelines: %v", err)
	}

	// results now hold both runs
	resp, body = api.json(http.MethodGet, "/sessions/"+sid+"/results", nil, nil)
	var listed struct {
		Images  []map[string]any `json:"images"`
		Results []map[string]any `json:"results"`
	}
	_ = json.Unmarshal(body, &listed)
	if resp.StatusCode != http.StatusOK || len(listed.Images) != 2 || len(listed.Results) != 2 {
		t.Errorf("results = %d: %s", resp.StatusCode, body)
	}

	// prediction status is proxied
	resp, body = api.json(http.MethodGet, "/sessions/"+sid+"/predictions/pred-1", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"succeeded"`) {
		t.Errorf("prediction proxy = %d %s", resp.StatusCode, body)
	}

	// reset clears everything
	if resp, _ := api.json(http.MethodDelete, "/sessions/"+sid, nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("reset = %d", resp.StatusCode)
	}
	resp, body = api.json(http.MethodGet, "/sessions/"+sid, nil, nil)
	if resp.StatusCode != http.StatusOK || strings.Contains(string(body), "circle.svg") {
		t.Errorf("snapshot after reset = %d %s", resp.StatusCode, body)
	}

	// probes
	probe := &apiClient{t: t, base: server.URL}
	if resp, _ := probe.json(http.MethodGet, "/healthz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
	resp, body = probe.json(http.MethodGet, "/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("captionq_pipelines_started_total")) {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}
