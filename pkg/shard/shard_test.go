package shard

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

const recordJSON = `{
  "build": "0",
  "build_number": 0,
  "depends": ["python >=3.8", "zlib"],
  "md5": "d41d8cd98f00b204e9800998ecf8427e",
  "name": "foo",
  "size": 12345,
  "timestamp": 1600000000000,
  "version": "1.0"
}`

func testRecord(t *testing.T) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(recordJSON)))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec
}

func testShard(t *testing.T) *Shard {
	t.Helper()
	return &Shard{
		Channeldata:        map[string]any{"home": "https://example.com", "subdirs": []any{"linux-64"}},
		ChanneldataVersion: 1,
		Feedstock:          "foo-feedstock",
		Labels:             []string{"main"},
		Package:            "foo-1.0-0.tar.bz2",
		Repodata:           testRecord(t),
		RepodataVersion:    1,
		Subdir:             "linux-64",
		URL:                "https://example.com/foo-1.0-0.tar.bz2",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := testShard(t)

	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !reflect.DeepEqual(got, s) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, s)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	s := testShard(t)

	first, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := Encode(s.Clone())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("encoding is not deterministic")
	}
	if bytes.HasSuffix(first, []byte("\n")) {
		t.Error("encoded shard should not end with a newline")
	}
}

func TestEncodeSortedKeys(t *testing.T) {
	data, err := Encode(testShard(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	order := []string{
		`"channeldata"`,
		`"channeldata_version"`,
		`"feedstock"`,
		`"labels"`,
		`"package"`,
		`"repodata"`,
		`"repodata_version"`,
		`"subdir"`,
		`"url"`,
	}
	last := -1
	for _, key := range order {
		idx := bytes.Index(data, []byte("\n  "+key))
		if idx < 0 {
			t.Fatalf("key %s not found at top level", key)
		}
		if idx < last {
			t.Errorf("key %s out of order", key)
		}
		last = idx
	}

	if !bytes.Contains(data, []byte(`"timestamp": 1600000000000`)) {
		t.Error("large integers should be preserved verbatim")
	}
}

func TestEncodeNoHTMLEscape(t *testing.T) {
	s := testShard(t)
	s.Repodata["depends"] = []any{"python >=3.8,<3.9"}

	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(data, []byte(">=3.8,<3.9")) {
		t.Errorf("expected unescaped comparison operators, got %s", data)
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestShardValidate(t *testing.T) {
	s := testShard(t)
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	s.Package = ""
	if err := s.Validate(); !errors.Is(err, ErrInvalidShard) {
		t.Errorf("expected ErrInvalidShard, got %v", err)
	}

	s = testShard(t)
	s.Subdir = ""
	if err := s.Validate(); !errors.Is(err, ErrInvalidShard) {
		t.Errorf("expected ErrInvalidShard, got %v", err)
	}
}

func TestKey(t *testing.T) {
	s := testShard(t)
	if got := s.Key(); got != "linux-64/foo-1.0-0.tar.bz2" {
		t.Errorf("Key() = %q", got)
	}
}

func TestCloneRecordIsDeep(t *testing.T) {
	rec := testRecord(t)
	clone := CloneRecord(rec)

	clone["name"] = "bar"
	clone["depends"].([]any)[0] = "changed"

	if rec["name"] != "foo" {
		t.Error("top-level value leaked into original")
	}
	if rec["depends"].([]any)[0] != "python >=3.8" {
		t.Error("nested slice shared with original")
	}
	if CloneRecord(nil) != nil {
		t.Error("CloneRecord(nil) should be nil")
	}
}
