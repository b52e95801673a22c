package indicator

import "testing"

func TestNewDisabled(t *testing.T) {
	ind, err := New(Config{Line: 17})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := ind.(Nop); !ok {
		t.Fatalf("Expected Nop indicator without a chip, got %T", ind)
	}
	if ind.On() != nil || ind.Off() != nil || ind.Close() != nil {
		t.Error("Nop indicator returned an error")
	}
}
