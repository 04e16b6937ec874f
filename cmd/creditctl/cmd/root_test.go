package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestCommandTree(t *testing.T) {
	want := []string{
		"balance", "grant", "replay",
		"config get", "config set",
		"sweep escrow", "sweep reservations",
		"tier get", "tier set", "tier evaluate",
		"operator create", "apikey create",
	}
	for _, path := range want {
		c, rest, err := rootCmd.Find(strings.Fields(path))
		if err != nil || len(rest) != 0 || c.Name() != strings.Fields(path)[len(strings.Fields(path))-1] {
			t.Errorf("command %q not registered", path)
		}
	}
}

func TestConfigSet_ValidatesBeforeConnecting(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"config", "set", "credits_per_turn", "abc"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "credits_per_turn") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGrant_RejectsNonNumericAmount(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"grant", "w1", "lots"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "amount") {
		t.Fatalf("expected amount parse error, got %v", err)
	}
}
