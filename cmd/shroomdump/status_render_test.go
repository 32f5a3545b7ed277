package main

import (
	"bytes"
	"strings"
	"testing"

	"shroomdump/internal/preflight"
)

func TestRenderDoctorReportGroupsChecks(t *testing.T) {
	results := []preflight.Result{
		{Name: "git", Category: preflight.CategoryTools, Passed: true, Detail: "/usr/bin/git"},
		{Name: "brew", Category: preflight.CategoryTools, Passed: true, Optional: true, Detail: "Installs decoder build dependencies"},
		{Name: "Output directory", Category: preflight.CategoryDirectories, Passed: false, Detail: "permission denied"},
	}

	var buf bytes.Buffer
	renderDoctorReport(&buf, results, false)
	out := buf.String()

	requireContains(t, out, "Decoder toolchain\n")
	requireContains(t, out, "[ok]   git ")
	requireContains(t, out, "[skip] brew ")
	requireContains(t, out, "[FAIL] Output directory  permission denied")
	requireContains(t, out, "1 passed, 1 skipped, 1 failed")
	if strings.Contains(out, "Endpoints") {
		t.Fatalf("empty section rendered:\n%s", out)
	}
	if strings.Index(out, "Directories") < strings.Index(out, "brew") {
		t.Fatalf("sections out of order:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatal("colors written without a terminal")
	}
}
