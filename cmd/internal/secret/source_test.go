package secret

import (
	"bytes"
	"errors"
	"testing"
)

func testSource(env map[string]string, tty bool, typed string, readErr error) (*Source, *int) {
	reads := 0
	src := NewSource("SALE_KEY_PASS", "keystore passphrase")
	src.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	src.terminal = func() bool { return tty }
	src.read = func() ([]byte, error) {
		reads++
		return []byte(typed), readErr
	}
	src.out = &bytes.Buffer{}
	return src, &reads
}

func TestSourcePrefersEnvironment(t *testing.T) {
	src, reads := testSource(map[string]string{"SALE_KEY_PASS": "from-env"}, true, "typed", nil)
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("expected env value, got %q err=%v", got, err)
	}
	if *reads != 0 {
		t.Fatalf("expected no prompt, got %d reads", *reads)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	src, _ := testSource(map[string]string{"SALE_KEY_PASS": "  "}, true, "typed", nil)
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected empty env value to be rejected")
	}
}

func TestSourcePromptsAndCaches(t *testing.T) {
	src, reads := testSource(nil, true, "typed", nil)
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "typed" {
			t.Fatalf("call %d: got %q err=%v", i, got, err)
		}
	}
	if *reads != 1 {
		t.Fatalf("expected a single prompt, got %d", *reads)
	}
}

func TestSourceFailures(t *testing.T) {
	cases := map[string]*Source{}
	cases["no terminal"], _ = testSource(nil, false, "", nil)
	cases["blank input"], _ = testSource(nil, true, "   ", nil)
	cases["read error"], _ = testSource(nil, true, "", errors.New("eof"))
	for name, src := range cases {
		if _, err := src.Get(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
