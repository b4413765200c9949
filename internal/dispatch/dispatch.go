package dispatch

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ActionRelease is the only dispatch action that is processed.
const ActionRelease = "release"

var (
	// ErrNotRelease is returned for dispatch events with another action.
	ErrNotRelease = errors.New("dispatch: event action is not release")

	// ErrInvalidPayload is returned when the client payload is unusable.
	ErrInvalidPayload = errors.New("dispatch: invalid payload")
)

// Payload describes one uploaded package artifact.
type Payload struct {
	Subdir    string
	Package   string
	URL       string
	Label     string
	Feedstock string
	AddShard  bool
	MD5       string
}

type event struct {
	Action        string        `json:"action"`
	ClientPayload *clientPayload `json:"client_payload"`
}

type clientPayload struct {
	Subdir    string `json:"subdir"`
	Package   string `json:"package"`
	URL       string `json:"url"`
	Label     string `json:"label"`
	Feedstock string `json:"feedstock"`
	AddShard  *bool  `json:"add_shard"`
	MD5       string `json:"md5"`
}

// Load reads and parses the dispatch event at path.
func Load(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return Parse(data)
}

// Parse decodes a repository dispatch event. add_shard defaults to true.
func Parse(data []byte) (*Payload, error) {
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if ev.Action != ActionRelease {
		return nil, fmt.Errorf("%w: %q", ErrNotRelease, ev.Action)
	}
	if ev.ClientPayload == nil {
		return nil, fmt.Errorf("%w: missing client_payload", ErrInvalidPayload)
	}

	cp := ev.ClientPayload
	p := &Payload{
		Subdir:    cp.Subdir,
		Package:   cp.Package,
		URL:       cp.URL,
		Label:     cp.Label,
		Feedstock: cp.Feedstock,
		AddShard:  true,
		MD5:       cp.MD5,
	}
	if cp.AddShard != nil {
		p.AddShard = *cp.AddShard
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that the payload names a single artifact reachable over
// http(s).
func (p *Payload) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"subdir", p.Subdir},
		{"package", p.Package},
		{"label", p.Label},
	} {
		switch {
		case f.value == "":
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		case strings.ContainsAny(f.value, `/\`) || f.value == "." || f.value == "..":
			errs = append(errs, fmt.Errorf("%s %q is not a single path element", f.name, f.value))
		}
	}

	if p.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if u, err := url.Parse(p.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("url %q is not an http(s) url", p.URL))
	}

	if p.MD5 != "" {
		if b, err := hex.DecodeString(p.MD5); err != nil || len(b) != 16 {
			errs = append(errs, fmt.Errorf("md5 %q is not a hex digest", p.MD5))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, errors.Join(errs...))
	}
	return nil
}
