package server

import "testing"

func TestSubscriptionBits(t *testing.T) {
	c := &client{}
	if c.subscribed(5) {
		t.Fatalf("fresh client subscribed to 5")
	}
	c.subscribe(5)
	if !c.subscribed(5) {
		t.Fatalf("bit 5 not set")
	}
	if c.subscribed(6) || c.subscribed(4) {
		t.Fatalf("neighboring bits leaked")
	}
	c.unsubscribe(5)
	if c.subscribed(5) {
		t.Fatalf("bit 5 not cleared")
	}
}

func TestSubscriptionBoundaries(t *testing.T) {
	c := &client{}
	c.subscribe(0)
	c.subscribe(254)
	if !c.subscribed(0) || !c.subscribed(254) {
		t.Fatalf("boundary bits not set")
	}
	c.unsubscribe(0)
	if c.subscribed(0) || !c.subscribed(254) {
		t.Fatalf("boundary clear disturbed other bits")
	}
}

func TestSubscribeAllSentinelSetsEveryBit(t *testing.T) {
	c := &client{}
	c.subscribe(0xFF)
	for i := 0; i < 255; i++ {
		if !c.subscribed(uint8(i)) {
			t.Fatalf("bit %d not set by the all sentinel", i)
		}
	}
	c.unsubscribe(0xFF)
	for i := 0; i < 255; i++ {
		if c.subscribed(uint8(i)) {
			t.Fatalf("bit %d survived the all-clear sentinel", i)
		}
	}
}
