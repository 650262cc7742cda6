package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Tables(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"-tables", "-model", "287"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.HasPrefix(out.String(), "; x87 dispatch map, model 287") {
		t.Fatalf("banner printed before the map:\n%.200s", out.String())
	}
	if !strings.Contains(out.String(), "D9 FE  #UD") {
		t.Fatal("287 map lists FSIN")
	}
}

func TestRun_Bundle(t *testing.T) {
	var out, errOut bytes.Buffer
	path := filepath.Join("testdata", "add_store.txtar")
	if code := run([]string{"-q", "-bundle", path}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s%s", code, out.String(), errOut.String())
	}
	if out.String() != "ok   "+path+"\n" {
		t.Fatalf("output %q", out.String())
	}
}

func TestRun_BundleFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txtar")
	src := "-- code --\nD9 E8 F4\n-- expect --\nftw=FFFF\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"-q", "-bundle", path}, &out, &errOut); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.HasPrefix(out.String(), "FAIL "+path) || !strings.Contains(out.String(), "ftw = 3FFF") {
		t.Fatalf("output %q", out.String())
	}
}

func TestRun_Program(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.bin")
	if err := os.WriteFile(path, []byte{0xD9, 0xE8, 0xF4}, 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"-q", "-cores", "2", path}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	for _, want := range []string{"core 0: EIP=00001003 halted=true", "core 1: EIP=00001003", "ST(0) 3FFF8000000000000000"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("missing %q in:\n%s", want, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no input", []string{"-q"}, "no program"},
		{"bad model", []string{"-q", "-model", "487", "x.bin"}, "unknown FPU model"},
		{"bad memory", []string{"-q", "-mem", "lots", "x.bin"}, "invalid -mem"},
		{"bad flag", []string{"-frobnicate"}, "flag provided but not defined"},
		{"missing file", []string{"-q", "does-not-exist.bin"}, "Error loading program"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			if code := run(tc.args, &out, &errOut); code != 1 {
				t.Fatalf("exit %d, want 1", code)
			}
			if !strings.Contains(errOut.String(), tc.want) {
				t.Fatalf("stderr %q, want %q", errOut.String(), tc.want)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"-h"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(out.String(), "Usage: pcx87") || !strings.Contains(out.String(), "-softfloat") {
		t.Fatalf("help output %q", out.String())
	}
}
