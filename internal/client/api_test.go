package client

import (
	"context"
	"testing"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/protocol"
)

func TestLoginThenDialWithToken(t *testing.T) {
	srv, hub := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := Login(ctx, srv.URL, models.LoginRequest{UserID: "carol", Name: "Carol"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	conn, err := Dial(ctx, srv.URL, DialOptions{Codec: protocol.NameMsgpack, Token: token})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	s := NewSession(conn, SessionConfig{Media: noMedia{}, NewConn: newLoopConn})
	go s.Run(ctx)
	defer s.Close()

	if _, err := s.WaitConnected(ctx); err != nil {
		t.Fatal(err)
	}

	// the relay announces token holders on registration
	roster, err := hub.Roster(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 || roster[0].ID != "carol" {
		t.Errorf("roster = %+v, want carol", roster)
	}
}

func TestLoginRejectsMissingFields(t *testing.T) {
	srv, _ := startRelay(t)
	if _, err := Login(context.Background(), srv.URL, models.LoginRequest{Name: "NoID"}); err == nil {
		t.Error("expected an error for a login without a user id")
	}
}

func TestICEServers(t *testing.T) {
	srv, _ := startRelay(t)
	urls, err := ICEServers(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ICEServers failed: %v", err)
	}
	// the test relay is configured without any
	if len(urls) != 0 {
		t.Errorf("urls = %v, want none", urls)
	}
}

func TestAPIURL(t *testing.T) {
	tests := []struct {
		server, want string
	}{
		{"ws://localhost:8080/ws/signal?codec=json", "http://localhost:8080/api/ice-servers"},
		{"wss://relay.example.com", "https://relay.example.com/api/ice-servers"},
		{"localhost:9000", "http://localhost:9000/api/ice-servers"},
	}
	for _, tt := range tests {
		got, err := apiURL(tt.server, "/api/ice-servers")
		if err != nil {
			t.Errorf("apiURL(%q) error: %v", tt.server, err)
			continue
		}
		if got != tt.want {
			t.Errorf("apiURL(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}
