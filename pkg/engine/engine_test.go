package engine

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestQueryStatsMerge(t *testing.T) {
	a := QueryStats{Duration: time.Second, NumRequests: 2, NumSuccesses: 1, NumFailures: 1}
	b := QueryStats{Duration: 2 * time.Second, NumRequests: 3, NumSuccesses: 3}

	m := a.Merge(b)
	if m.Duration != 3*time.Second || m.NumRequests != 5 || m.NumSuccesses != 4 || m.NumFailures != 1 {
		t.Fatalf("bad merge: %+v", m)
	}
}

func TestReadAllWithinLimit(t *testing.T) {
	data := []byte("hello")
	got, err := readAll(bytes.NewReader(data), 16)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q", got)
	}
}

func TestReadAllRejectsOversize(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 17)
	if _, err := readAll(bytes.NewReader(data), 16); err == nil {
		t.Fatal("oversize body accepted")
	}
}

func TestReadAllExactLimit(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 16)
	got, err := readAll(bytes.NewReader(data), 16)
	if err != nil {
		t.Fatalf("exact-limit body rejected: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("got %d bytes", len(got))
	}
}

func TestKeyToCidDeterministic(t *testing.T) {
	c1, err := keyToCid(RecordKey("some-key"))
	if err != nil {
		t.Fatalf("keyToCid: %v", err)
	}
	c2, _ := keyToCid(RecordKey("some-key"))
	if !c1.Equals(c2) {
		t.Fatal("same key produced different cids")
	}
	c3, _ := keyToCid(RecordKey("other-key"))
	if c1.Equals(c3) {
		t.Fatal("different keys produced the same cid")
	}
}

func TestRecordDsKey(t *testing.T) {
	k := recordDsKey(RecordKey("abc"))
	if !strings.HasPrefix(k.String(), "/") {
		t.Fatalf("not a rooted datastore key: %s", k)
	}
	if k.String() == recordDsKey(RecordKey("abd")).String() {
		t.Fatal("distinct keys collided")
	}
}

func TestProvideSet(t *testing.T) {
	s := newProvideSet()
	c, _ := keyToCid(RecordKey("k"))
	s.add("k", c)
	s.add("k", c) // idempotent
	if got := s.snapshot(); len(got) != 1 {
		t.Fatalf("snapshot size %d", len(got))
	}
	s.remove("missing") // no-op
	s.remove("k")
	if got := s.snapshot(); len(got) != 0 {
		t.Fatalf("snapshot size %d after remove", len(got))
	}
}

func TestQuorumValues(t *testing.T) {
	if QuorumOne != QuorumExact(1) {
		t.Fatal("QuorumOne is not exact(1)")
	}
	if QuorumMajority == QuorumAll {
		t.Fatal("named quorums collide")
	}
}
