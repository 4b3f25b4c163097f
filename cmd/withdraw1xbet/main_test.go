package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestReadInputFromArgs(t *testing.T) {
	var out, errOut bytes.Buffer
	account, code, ok := readInput([]string{" 123456 ", "ABCD"}, strings.NewReader(""), &out, &errOut)
	if !ok || account != "123456" || code != "ABCD" {
		t.Fatalf("unexpected input %q %q %v", account, code, ok)
	}
	if out.Len() != 0 {
		t.Fatalf("no prompt expected, got %q", out.String())
	}
}

func TestReadInputPrompts(t *testing.T) {
	var out, errOut bytes.Buffer
	account, code, ok := readInput(nil, strings.NewReader("777\nXYZ\n"), &out, &errOut)
	if !ok || account != "777" || code != "XYZ" {
		t.Fatalf("unexpected input %q %q %v", account, code, ok)
	}
	if !strings.Contains(out.String(), "Код ордера на вывод") {
		t.Fatalf("expected prompts, got %q", out.String())
	}

	if _, _, ok := readInput([]string{"777"}, strings.NewReader("\n"), &out, &errOut); ok {
		t.Fatalf("empty account must be rejected")
	}
	if !strings.Contains(errOut.String(), "ID счета не может быть пустым") {
		t.Fatalf("unexpected error output %q", errOut.String())
	}
}

func TestRunRequiresCredentials(t *testing.T) {
	for _, key := range []string{"APP_ENV", "XBET_HASH", "XBET_CASHIERPASS", "XBET_LOGIN", "XBET_CASHDESKID"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	var out, errOut bytes.Buffer
	if code := run([]string{"1", "C"}, strings.NewReader(""), &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "configuration error") {
		t.Fatalf("unexpected error output %q", errOut.String())
	}
}
