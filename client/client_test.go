package client

import (
	"errors"
	"testing"

	"github.com/danmuck/wirelink/link"
)

func TestConnectValidatesConfig(t *testing.T) {
	if _, err := Connect(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for empty address, got %v", err)
	}
	_, err := Connect(Config{Kind: link.KindDatagram, Address: "/tmp/x.sock"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for datagram without local address, got %v", err)
	}
}
