package main

import (
	"path/filepath"
	"testing"

	"discarchive/internal/testsupport"
)

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HOLIDAY.iso")
	testsupport.WriteISO(t, path, "HOLIDAY", map[string]string{"readme": "hello"})

	out, _, err := runCLI(t, []string{"inspect", path}, "", "")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"== Image ==", "HOLIDAY", "readme", "== Root directory =="} {
		requireContains(t, out, want)
	}

	out, _, err = runCLI(t, []string{"inspect", "--json", path}, "", "")
	if err != nil {
		t.Fatalf("inspect --json: %v", err)
	}
	requireContains(t, out, `"label": "HOLIDAY"`)

	if _, _, err := runCLI(t, []string{"inspect", filepath.Join(t.TempDir(), "missing.iso")}, "", ""); err == nil {
		t.Fatal("expected error for a missing image")
	}
}
