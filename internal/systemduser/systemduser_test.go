package systemduser

import (
	"context"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient()
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
}

func TestEnableNow_Empty(t *testing.T) {
	c := NewClient()
	err := c.EnableNow(context.Background())
	if err != nil {
		t.Fatalf("EnableNow with no units returned error: %v", err)
	}
}
