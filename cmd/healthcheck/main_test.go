package main

import "testing"

func TestHealthzURL(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{"", "http://localhost:8080/healthz"},
		{":9090", "http://localhost:9090/healthz"},
		{"0.0.0.0:8080", "http://0.0.0.0:8080/healthz"},
	}
	for _, tc := range cases {
		t.Setenv("HTTP_ADDR", tc.addr)
		if got := healthzURL(); got != tc.want {
			t.Errorf("healthzURL() with HTTP_ADDR=%q = %q, want %q", tc.addr, got, tc.want)
		}
	}
}
