package cmd

import (
	"strings"
	"testing"
)

func TestExecute_Version(t *testing.T) {
	defer setArgs("rationale", "version")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(version): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Error("version should print to stdout")
	}
	if !strings.Contains(out, "rationale") {
		t.Errorf("version output should contain 'rationale': %q", out)
	}
}

func TestExecute_Status(t *testing.T) {
	useTestDataDir(t)

	defer setArgs("rationale", "status")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(status): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Rationale Corpus Status") {
		t.Errorf("status output: %q", out)
	}
	if !strings.Contains(out, "Transcripts: 0") {
		t.Errorf("fresh corpus should report zero transcripts: %q", out)
	}
}
