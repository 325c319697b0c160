package replsession

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dsmmcken/scanflow/internal/target/fake"
)

func le64(v int64) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(uint64(v) >> (8 * i))
	}
	return b
}

// TestScanNarrowResetSequence runs a full session arc: two live i64=122
// values, a narrowing scan after one changes, then reset clears everything.
func TestScanNarrowResetSequence(t *testing.T) {
	tgt := fake.New(8)
	region := make([]byte, 64)
	copy(region[0:], le64(122))
	copy(region[32:], le64(122))
	tgt.MapRegion(0x1000, region)

	sess := New(tgt, tgt, Options{})
	var out bytes.Buffer

	if quit, err := sess.Dispatch(context.Background(), "i64 122", &out, nil); quit || err != nil {
		t.Fatalf("i64 122: quit=%v err=%v", quit, err)
	}
	if n := len(sess.scan.Matches()); n != 2 {
		t.Fatalf("after first scan: %d matches, want 2", n)
	}

	if err := tgt.WriteRange(context.Background(), 0x1000, le64(123)); err != nil {
		t.Fatal(err)
	}
	if quit, err := sess.Dispatch(context.Background(), "123", &out, nil); quit || err != nil {
		t.Fatalf("narrow 123: quit=%v err=%v", quit, err)
	}
	if n := len(sess.scan.Matches()); n != 1 {
		t.Fatalf("after narrowing: %d matches, want 1", n)
	}

	if quit, err := sess.Dispatch(context.Background(), "reset", &out, nil); quit || err != nil {
		t.Fatalf("reset: quit=%v err=%v", quit, err)
	}
	if n := len(sess.scan.Matches()); n != 0 {
		t.Fatalf("after reset: %d matches, want 0", n)
	}
}

// TestWriteOneShot scans for a string and overwrites the matched bytes
// in place.
func TestWriteOneShot(t *testing.T) {
	tgt := fake.New(8)
	region := make([]byte, 64)
	copy(region, []byte("There is nothing here!!!!"))
	tgt.MapRegion(0x2000, region)

	sess := New(tgt, tgt, Options{})
	var out bytes.Buffer

	if quit, err := sess.Dispatch(context.Background(), "str There is nothing here!!!!", &out, nil); quit || err != nil {
		t.Fatalf("str scan: quit=%v err=%v", quit, err)
	}
	if n := len(sess.scan.Matches()); n != 1 {
		t.Fatalf("expected exactly 1 match, got %d", n)
	}

	if quit, err := sess.Dispatch(context.Background(), "write 0 o Hello world from memflow!", &out, nil); quit || err != nil {
		t.Fatalf("write: quit=%v err=%v", quit, err)
	}

	buf := make([]byte, len("Hello world from memflow!"))
	n, err := tgt.ReadRange(context.Background(), 0x2000, buf)
	if err != nil || n != len(buf) {
		t.Fatalf("reading back written region: n=%d err=%v", n, err)
	}
	if string(buf) != "Hello world from memflow!" {
		t.Fatalf("got %q after write", buf)
	}
}

func TestPrintDumpsDecodedMatches(t *testing.T) {
	tgt := fake.New(8)
	region := make([]byte, 16)
	copy(region, le64(42))
	tgt.MapRegion(0x3000, region)

	sess := New(tgt, tgt, Options{})
	var out bytes.Buffer
	if _, err := sess.Dispatch(context.Background(), "i64 42", &out, nil); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if _, err := sess.Dispatch(context.Background(), "print", &out, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "= 42") {
		t.Fatalf("print output = %q, want it to contain decoded value 42", out.String())
	}
}

func TestBareValueWithoutRememberedTypeErrors(t *testing.T) {
	tgt := fake.New(8)
	sess := New(tgt, tgt, Options{})
	var out bytes.Buffer
	if _, err := sess.Dispatch(context.Background(), "42", &out, nil); err == nil {
		t.Fatal("expected an error narrowing without a remembered type")
	}
}

func TestQuitStopsTheLoop(t *testing.T) {
	tgt := fake.New(8)
	sess := New(tgt, tgt, Options{})
	var out bytes.Buffer
	quit, err := sess.Dispatch(context.Background(), "quit", &out, nil)
	if err != nil || !quit {
		t.Fatalf("quit: quit=%v err=%v", quit, err)
	}
}
