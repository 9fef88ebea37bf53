package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	src := `
# comment
PLAIN=value
export EXPORTED=yes
DOUBLE="quoted value"
SINGLE='single quoted'
EMPTY=
REPEATED=first
REPEATED=second
`
	pairs, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	want := map[string]string{
		"PLAIN":    "value",
		"EXPORTED": "yes",
		"DOUBLE":   "quoted value",
		"SINGLE":   "single quoted",
		"EMPTY":    "",
		"REPEATED": "second",
	}
	for k, v := range want {
		if got := pairs[k]; got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if len(pairs) != len(want) {
		t.Errorf("len(pairs)=%d, want %d", len(pairs), len(want))
	}
}

func TestParse_RejectsBareWords(t *testing.T) {
	if _, err := Parse("NOT A PAIR"); err == nil {
		t.Fatal("expected an error for a line without =")
	}
}

func TestLoadFile_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
}

func TestLoadFile_DoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DOTENV_TEST_KEY=from_file\nDOTENV_TEST_NEW=added\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DOTENV_TEST_KEY", "from_env")
	if err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if got := os.Getenv("DOTENV_TEST_KEY"); got != "from_env" {
		t.Errorf("DOTENV_TEST_KEY = %q, want existing value kept", got)
	}
	if got := os.Getenv("DOTENV_TEST_NEW"); got != "added" {
		t.Errorf("DOTENV_TEST_NEW = %q, want %q", got, "added")
	}
	os.Unsetenv("DOTENV_TEST_NEW")
}
