package logging

import "testing"

func TestSetup(t *testing.T) {
	if err := Setup("debug", "plain"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := Setup("info", "json"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := Setup("loud", "plain"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := Setup("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}

	Logger("test").Infof("logger %s ready", "test")
}
