package wikipath

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		want Class
	}{
		{"/notes/_a", Wiki},
		{"/_root", Wiki},
		{"/notes/plain.txt", Local},
		{"/notes/_a~", Local},
		{"/.git/_a", Local},
		{"/notes/.hidden/_a", Local},
		{"/notes/", LocalDir},
		{"/notes/_sub/", LocalDir},
		{"", LocalDir},
		{"/LOCK_a", Local},
	}
	for _, c := range cases {
		if got := Classify(c.path); got != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestIsWiki(t *testing.T) {
	if !IsWiki("/_a") {
		t.Error("expected /_a to be wiki")
	}
	if IsWiki("/a") {
		t.Error("expected /a to be local")
	}
}

func TestLockName(t *testing.T) {
	if got := LockName("_a"); got != "LOCK_a" {
		t.Errorf("LockName(_a) = %q, want LOCK_a", got)
	}
	if !IsLockName("LOCK_a") {
		t.Error("expected LOCK_a to be recognized as a lock name")
	}
	if IsLockName("_a") {
		t.Error("did not expect _a to be recognized as a lock name")
	}
}

func TestLockNamePanicsOnNonWikiBasename(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-wiki basename")
		}
	}()
	LockName("plain.txt")
}

func TestBase(t *testing.T) {
	if got := Base("/notes/_a"); got != "_a" {
		t.Errorf("Base = %q, want _a", got)
	}
	if got := Base("_a"); got != "_a" {
		t.Errorf("Base = %q, want _a", got)
	}
}
