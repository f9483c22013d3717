package main

import (
	"github.com/mewkiz/pkg/jsonutil"
	"github.com/mewkiz/pkg/osutil"
	"github.com/pkg/errors"

	"github.com/mewmew/lifter/bin"
)

// entryRVAs returns the RVAs of the functions to lift, as specified by the
// given addresses and the JSON file of function addresses at jsonPath. The
// entry point of img is returned if no addresses are specified. Duplicates
// are removed; the order of first occurrence is kept.
func entryRVAs(img *bin.Image, jsonPath string, args []string) ([]uint64, error) {
	var vas bin.Addrs
	if jsonPath != "" {
		if err := parseJSON(jsonPath, &vas); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	for _, arg := range args {
		var va bin.Addr
		if err := va.Set(arg); err != nil {
			return nil, errors.Wrapf(err, "invalid function address %q", arg)
		}
		vas = append(vas, va)
	}
	if len(vas) == 0 {
		return []uint64{uint64(img.Entry)}, nil
	}
	var rvas []uint64
	seen := make(map[uint64]bool)
	for _, va := range vas {
		if va < img.Base {
			return nil, errors.Errorf("function address %v below image base %v", va, img.Base)
		}
		rva := uint64(va - img.Base)
		if seen[rva] {
			continue
		}
		seen[rva] = true
		rvas = append(rvas, rva)
	}
	return rvas, nil
}

// parseJSON parses the given JSON file and stores the result into v.
func parseJSON(jsonPath string, v interface{}) error {
	if !osutil.Exists(jsonPath) {
		return errors.Errorf("unable to locate JSON file %q", jsonPath)
	}
	logger.Debugf("parsing %q", jsonPath)
	return jsonutil.ParseFile(jsonPath, v)
}
