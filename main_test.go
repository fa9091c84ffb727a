package main

import (
	"os"
	"testing"

	"stargate/cmd"
)

func TestVersion(t *testing.T) {
	if version != "dev" {
		t.Errorf("Expected default version to be 'dev', got %s", version)
	}

	cmd.SetVersion(version)
	if cmd.GetVersion() != "dev" {
		t.Errorf("Expected root command version to be 'dev', got %s", cmd.GetVersion())
	}
}

func TestMainFunction(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	// The version command has no side effects.
	os.Args = []string{"stargate", "version"}
	main()
}
