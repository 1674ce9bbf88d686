package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   int
	}{
		{"healthy", http.StatusOK, 0},
		{"not ready", http.StatusServiceUnavailable, 1},
		{"missing", http.StatusNotFound, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			if got := probe(context.Background(), srv.Client(), srv.URL+"/healthz"); got != tt.want {
				t.Errorf("probe() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if got := probe(context.Background(), &http.Client{Timeout: time.Second}, url); got != 1 {
		t.Errorf("probe() = %d, want 1", got)
	}
}
