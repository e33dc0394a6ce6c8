package server

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/danmuck/wirelink/link/socket"
)

func TestDefaultServerInitOnce(t *testing.T) {
	t.Cleanup(Reset)
	dir := t.TempDir()

	newCfg := func(name string) Config {
		lk, err := socket.NewLink(socket.Config{
			StreamAddr:     filepath.Join(dir, name),
			MaxMessageSize: testMaxMessage,
		})
		if err != nil {
			t.Fatalf("new link: %v", err)
		}
		return Config{Link: lk, MaxMessageSize: testMaxMessage}
	}

	if Default() != nil {
		t.Fatalf("default server set before Init")
	}
	if err := Init(newCfg("a.sock")); err != nil {
		t.Fatalf("init: %v", err)
	}
	if Default() == nil {
		t.Fatalf("default server missing after Init")
	}
	if err := Init(newCfg("b.sock")); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	Reset()
	if Default() != nil {
		t.Fatalf("default server survived Reset")
	}
	if err := Init(newCfg("c.sock")); err != nil {
		t.Fatalf("re-init after reset: %v", err)
	}
}
