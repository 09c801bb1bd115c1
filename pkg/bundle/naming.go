package bundle

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatName renders a bundle's on-disk file name for the given hash and
// patch: "<hash>" for the base patch, "<hash>.patch_<NNN>" otherwise.
// Grounded on original_source/crates/stingray/src/utility.rs format_bundle.
func FormatName(hash uint64, patch Patch) string {
	if patch.IsBase() {
		return fmt.Sprintf("%016x", hash)
	}
	return fmt.Sprintf("%016x.patch_%03d", hash, uint16(patch))
}

// ParseName parses a bundle file name of the form "<hash>" or
// "<hash>.patch_<NNN>" back into its hash and patch.
func ParseName(name string) (hash uint64, patch Patch, err error) {
	stem, suffix, hasSuffix := strings.Cut(name, ".patch_")
	hash, err = strconv.ParseUint(stem, 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bundle: invalid bundle hash in name %q: %w", name, err)
	}
	if !hasSuffix {
		return hash, BasePatch, nil
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, 0, fmt.Errorf("bundle: invalid patch suffix in name %q: %w", name, err)
	}
	patch, err = NewPatch(n)
	if err != nil {
		return 0, 0, fmt.Errorf("bundle: name %q: %w", name, err)
	}
	return hash, patch, nil
}
