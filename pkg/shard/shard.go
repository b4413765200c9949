package shard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidShard is returned when a document lacks the fields that
// identify it.
var ErrInvalidShard = errors.New("shard: invalid shard document")

// Shard is the per-package metadata document stored at Path(Subdir, Package).
//
// Fields are declared in JSON key order so that encoding is deterministic
// without a custom marshaler; nested records are maps, which encoding/json
// already sorts.
type Shard struct {
	Channeldata        map[string]any `json:"channeldata"`
	ChanneldataVersion int            `json:"channeldata_version"`
	Feedstock          string         `json:"feedstock"`
	Labels             []string       `json:"labels"`
	Package            string         `json:"package"`
	Repodata           map[string]any `json:"repodata"`
	RepodataVersion    int            `json:"repodata_version"`
	Subdir             string         `json:"subdir"`
	URL                string         `json:"url"`
}

// Key returns the "<subdir>/<package>" key used by the bulk loader and as
// the release tag.
func (s *Shard) Key() string {
	return Key(s.Subdir, s.Package)
}

// Key joins a subdir and package name.
func Key(subdir, pkg string) string {
	return subdir + "/" + pkg
}

// SetURL points the shard at the final download location of its artifact.
func (s *Shard) SetURL(url string) {
	s.URL = url
}

// Validate checks that the shard carries its identifying fields.
func (s *Shard) Validate() error {
	if s.Subdir == "" {
		return fmt.Errorf("%w: missing subdir", ErrInvalidShard)
	}
	if s.Package == "" {
		return fmt.Errorf("%w: missing package", ErrInvalidShard)
	}
	return nil
}

// Encode serializes the shard with sorted keys and two-space indentation.
// The output has no trailing newline, so re-encoding an unchanged shard
// produces identical bytes.
func Encode(s *Shard) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("shard: encode %s: %w", s.Key(), err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a shard document. Numbers inside the nested records are
// kept as json.Number so that they round-trip exactly.
func Decode(data []byte) (*Shard, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var s Shard
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("shard: decode: %w", err)
	}
	return &s, nil
}

// Clone returns a deep copy of s.
func (s *Shard) Clone() *Shard {
	c := *s
	c.Labels = append([]string(nil), s.Labels...)
	c.Repodata = CloneRecord(s.Repodata)
	c.Channeldata = CloneRecord(s.Channeldata)
	return &c
}

// CloneRecord returns a deep copy of a decoded JSON object.
func CloneRecord(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	return cloneValue(rec).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
