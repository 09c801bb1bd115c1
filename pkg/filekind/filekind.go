// Package filekind implements the decoder dispatch table consumed by the
// extraction pipeline (C5): a mapping from a bundle file's ext_hash to a
// tagged decoder that knows how to recover a self-name (if any) and how to
// serialize the file's external representation.
//
// The set of extensions and their decoders is grounded on
// original_source/crates/stingray/src/file/{mod,lua,wwise_dep,strings}.rs.
// Adding a decoder is adding an entry to knownExtensions and, if it needs
// special handling, a case in Dispatch.
package filekind

import "github.com/user/stingrayext/pkg/hash"

// Kind identifies the decoder responsible for a file extension.
type Kind int

const (
	Unknown Kind = iota
	Lua
	WwiseDep
	Strings
	Texture
	Bones
	Particles
	Slug
	Raw
)

// knownExtensions lists every extension this repo recognizes by name. Most
// fall back to the Raw decoder (copy past the 36-byte file header); a few
// have dedicated decoders below. The list mirrors the Stingray engine's
// resource type set as enumerated by the file_kinds! macro in
// original_source/crates/stingray/src/file/mod.rs.
var knownExtensions = map[string]Kind{
	"animation":                   Raw,
	"animation_curves":            Raw,
	"bik":                         Raw,
	"blend_set":                   Raw,
	"bones":                       Bones,
	"chroma":                      Raw,
	"common_package":              Raw,
	"config":                      Raw,
	"data":                        Raw,
	"entity":                      Raw,
	"flow":                        Raw,
	"font":                        Raw,
	"ini":                         Raw,
	"ivf":                         Raw,
	"keys":                        Raw,
	"level":                       Raw,
	"lua":                         Lua,
	"material":                    Raw,
	"mod":                         Raw,
	"mouse_cursor":                Raw,
	"navdata":                     Raw,
	"network_config":              Raw,
	"package":                     Raw,
	"particles":                   Particles,
	"physics_properties":          Raw,
	"render_config":               Raw,
	"scene":                       Raw,
	"shader":                      Raw,
	"shader_library":              Raw,
	"shader_library_group":        Raw,
	"shading_environment":         Raw,
	"shading_environment_mapping": Raw,
	"slug":                        Slug,
	"state_machine":               Raw,
	"strings":                     Strings,
	"texture":                     Texture,
	"tome":                        Raw,
	"unit":                        Raw,
	"vector_field":                Raw,
	"wwise_bank":                  Raw,
	"wwise_dep":                   WwiseDep,
	"wwise_metadata":              Raw,
	"wwise_stream":                Raw,
}

var (
	hashToKind = make(map[uint64]Kind, len(knownExtensions))
	hashToName = make(map[uint64]string, len(knownExtensions))
	nameToHash = make(map[string]uint64, len(knownExtensions))
)

func init() {
	for name, kind := range knownExtensions {
		h := hash.MurmurString(name)
		hashToKind[h] = kind
		hashToName[h] = name
		nameToHash[name] = h
	}
}

// WithHash returns the Kind registered for an ext_hash, or Unknown if the
// extension is not recognized.
func WithHash(extHash uint64) Kind {
	if k, ok := hashToKind[extHash]; ok {
		return k
	}
	return Unknown
}

// WithName returns the murmur64a hash of a known extension string, along
// with whether it was recognized. Unrecognized extensions still hash (the
// caller may be matching an arbitrary glob component) but report false.
func WithName(ext string) (uint64, bool) {
	h, ok := nameToHash[ext]
	if ok {
		return h, true
	}
	return hash.MurmurString(ext), false
}

// Name returns the extension string for a known ext_hash, or "" if unknown.
func Name(extHash uint64) string {
	return hashToName[extHash]
}

// CanSelfName reports whether a decoder can recover its own name/extension
// from the file's bytes (§4.5 fallback chain, step 2).
func CanSelfName(extHash uint64) bool {
	switch WithHash(extHash) {
	case Lua, WwiseDep:
		return true
	default:
		return false
	}
}

// unreliableKinds is the "known-unreliable" extension set used by the
// size-inconsistency recovery algorithm in C2 (§4.2): files whose declared
// size is not trustworthy because of a resource-compiler bug.
var unreliableKinds = map[Kind]bool{
	Unknown:   true,
	Particles: true,
	Slug:      true,
	Strings:   true,
}

// IsUnreliable reports whether ext_hash belongs to the unreliable set
// consulted during Δ-recovery.
func IsUnreliable(extHash uint64) bool {
	return unreliableKinds[WithHash(extHash)]
}
