package bus

import "testing"

func TestNilClientIsSafe(t *testing.T) {
	var c *Client

	if c.Healthy() {
		t.Fatal("nil client must not report healthy")
	}
	if err := c.Publish("notify.received", []byte("{}")); err == nil {
		t.Fatal("expected error publishing on nil client")
	}
	c.Close()
}
