// Package oat implements a bidirectional codec for the Android Runtime
// OAT container format, versions 045 through 088: building OAT images
// from DEX inputs, parsing existing images, and rendering dumps.
package oat

import "fmt"

// Version is the little-endian word formed by the four ASCII version
// bytes that follow the magic ("045\0" and so on).
type Version uint32

const (
	VersionUnknown Version = 0
	V045           Version = 0x00353430
	V064           Version = 0x00343630
	V079           Version = 0x00393730
	V088           Version = 0x00383830
)

// VersionFromWord maps a raw header word to a known Version.
func VersionFromWord(w uint32) Version {
	switch v := Version(w); v {
	case V045, V064, V079, V088:
		return v
	}
	return VersionUnknown
}

// VersionFromString maps a CLI version string ("045", "079", ...).
func VersionFromString(s string) Version {
	switch s {
	case "045":
		return V045
	case "064":
		return V064
	case "079":
		return V079
	case "088":
		return V088
	}
	return VersionUnknown
}

// Legacy reports whether v uses the 045/064 listing layout, where class
// offset tables live inline in the dex file listing.
func (v Version) Legacy() bool { return v == V045 || v == V064 }

// Modern reports whether v uses the 079/088 listing layout, with
// out-of-line class tables and type lookup tables.
func (v Version) Modern() bool { return v == V079 || v == V088 }

// String renders the four version bytes as ASCII, e.g. "079".
func (v Version) String() string {
	if v == VersionUnknown {
		return "unknown"
	}
	b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	out := make([]byte, 0, 4)
	for _, c := range b {
		if c == 0 {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// InstructionSet is the target architecture word of the OAT header.
type InstructionSet uint32

const (
	ISANone InstructionSet = iota
	ISAArm
	ISAArm64
	ISAThumb2
	ISAX86
	ISAX86_64
	ISAMips
	ISAMips64
)

var isaNames = [...]string{"NONE", "arm", "arm64", "thumb2", "x86", "x86_64", "mips", "mips64"}

func (i InstructionSet) String() string {
	if int(i) < len(isaNames) {
		return isaNames[i]
	}
	return fmt.Sprintf("isa(%d)", uint32(i))
}

// ISAFromString maps a build --arch string to an instruction set.
// Only the sets a build can target are accepted.
func ISAFromString(s string) (InstructionSet, bool) {
	switch s {
	case "arm":
		return ISAArm, true
	case "arm64":
		return ISAArm64, true
	case "x86":
		return ISAX86, true
	case "x86_64":
		return ISAX86_64, true
	}
	return ISANone, false
}
