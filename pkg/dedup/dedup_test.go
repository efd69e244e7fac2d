package dedup

import (
	"testing"
	"time"
)

func TestFirstThenDuplicate(t *testing.T) {
	d := New(time.Minute, 100)
	k := Key([]byte(`{"type":"setValue","identifier":"a/b"}`))
	if !d.First(k) {
		t.Fatal("first sighting should process")
	}
	if d.First(k) {
		t.Fatal("identical payload within window should be dropped")
	}
}

func TestEmptyKeyAlwaysProcessed(t *testing.T) {
	d := New(time.Minute, 100)
	if !d.First("") || !d.First("") {
		t.Fatal("empty key must never be deduplicated")
	}
}

func TestWindowExpiry(t *testing.T) {
	d := New(10*time.Millisecond, 100)
	if !d.First("k") {
		t.Fatal("first should process")
	}
	time.Sleep(20 * time.Millisecond)
	if !d.First("k") {
		t.Fatal("expired entry should process again")
	}
}

func TestCapBoundsSize(t *testing.T) {
	d := New(time.Hour, 10)
	for i := 0; i < 100; i++ {
		d.First(Key([]byte{byte(i)}))
	}
	if got := d.Len(); got > 11 {
		t.Fatalf("deduper grew past cap: %d", got)
	}
}
