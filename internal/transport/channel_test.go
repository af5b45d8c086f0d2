package transport

import "testing"

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://relay.example:8080", "ws://relay.example:8080/ws"},
		{"https://relay.example", "wss://relay.example/ws"},
		{"http://relay.example/", "ws://relay.example/ws"},
	}
	for _, tt := range tests {
		if got := WebsocketURL(tt.in); got != tt.want {
			t.Fatalf("WebsocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
