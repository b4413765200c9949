package indexer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wolfv/repodata-tools/pkg/shard"
)

// assemble reads the indexing tool's output in scratch and extracts the
// records for req.Package.
func assemble(scratch string, req Request) (*shard.Shard, error) {
	cd, err := readJSON(filepath.Join(scratch, "channeldata.json"))
	if err != nil {
		return nil, err
	}
	rd, err := readJSON(filepath.Join(scratch, req.Subdir, "repodata.json"))
	if err != nil {
		return nil, err
	}

	rdVersion, err := intField(rd, "repodata_version")
	if err != nil {
		return nil, fmt.Errorf("repodata.json: %w", err)
	}
	rec, err := packageRecord(rd, req.Package)
	if err != nil {
		return nil, fmt.Errorf("repodata.json: %w", err)
	}
	name, ok := rec["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: repodata.json: record for %s has no name", ErrMalformedOutput, req.Package)
	}

	cdVersion, err := intField(cd, "channeldata_version")
	if err != nil {
		return nil, fmt.Errorf("channeldata.json: %w", err)
	}
	cdPackages, ok := cd["packages"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: channeldata.json: missing packages", ErrMalformedOutput)
	}
	cdRec, ok := cdPackages[name].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: channeldata.json: missing package %s", ErrMalformedOutput, name)
	}

	return &shard.Shard{
		Channeldata:        shard.CloneRecord(cdRec),
		ChanneldataVersion: cdVersion,
		Feedstock:          req.Feedstock,
		Labels:             []string{req.Label},
		Package:            req.Package,
		Repodata:           shard.CloneRecord(rec),
		RepodataVersion:    rdVersion,
		Subdir:             req.Subdir,
		URL:                req.URL,
	}, nil
}

// packageRecord finds the repodata record of pkg. Newer indexers list
// .conda artifacts under "packages.conda".
func packageRecord(rd map[string]any, pkg string) (map[string]any, error) {
	keys := []string{"packages"}
	if strings.HasSuffix(pkg, ".conda") {
		keys = []string{"packages.conda", "packages"}
	}
	for _, key := range keys {
		pkgs, ok := rd[key].(map[string]any)
		if !ok {
			continue
		}
		if rec, ok := pkgs[pkg].(map[string]any); ok {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: missing package %s", ErrMalformedOutput, pkg)
}

func readJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedOutput, filepath.Base(path), err)
	}
	return doc, nil
}

func intField(doc map[string]any, key string) (int, error) {
	n, ok := doc[key].(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedOutput, key)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrMalformedOutput, key, err)
	}
	return int(v), nil
}
