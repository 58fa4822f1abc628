package classmap

import "testing"

const goodPath = "/home/somebody/src/MyPackage/Classes/SomeClass.uc"

func TestCanSplitSource(t *testing.T) {
	pkg, cls, err := SplitSource(goodPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkg != "MyPackage" || cls != "SomeClass" {
		t.Fatalf("got (%q, %q)", pkg, cls)
	}
}

func TestSplitSourceBadClassname(t *testing.T) {
	_, _, err := SplitSource("/MyMod/BadClass.uc")
	if err == nil {
		t.Fatal("expected ErrBadFilename")
	}
}

func TestQualifyName(t *testing.T) {
	info, err := Make(goodPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := info.Qualify(); got != "MyPackage.SomeClass" {
		t.Fatalf("got %q", got)
	}
}

func TestEntryOrInsertUppercasesKey(t *testing.T) {
	m := New(nil)
	info, err := Make(goodPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.EntryOrInsert(info.Qualify(), info)
	if !m.Contains("MYPACKAGE.SOMECLASS") {
		t.Fatal("expected uppercase key to be present")
	}
	if !m.Contains("MyPackage.SomeClass") {
		t.Fatal("lookup should be case-insensitive")
	}
}
