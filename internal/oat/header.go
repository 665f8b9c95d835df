package oat

import (
	"encoding/binary"
	"fmt"
	"io"

	"oatforge/internal/cursor"
)

// Magic is the OAT header magic, "oat\n" read as a little-endian word.
const Magic = 0x0A74616F

// Placeholder value written into the common header words before the
// body checksum is known.
const headerPlaceholder = 0xCDCDCDCD

// CommonHeaderSize is the size of the version-independent header prefix.
const CommonHeaderSize = 12

// CommonHeader is the version-independent header prefix.
//
//	magic  version  checksum
type CommonHeader struct {
	Magic    uint32 `json:"magic"`
	Version  uint32 `json:"version"`
	Checksum uint32 `json:"checksum"`
}

// ParseCommonHeader decodes the 12-byte prefix.
func ParseCommonHeader(b *cursor.Buffer) (CommonHeader, error) {
	var h CommonHeader
	var err error
	if h.Magic, err = b.Uint32(); err != nil {
		return h, err
	}
	if h.Version, err = b.Uint32(); err != nil {
		return h, err
	}
	h.Checksum, err = b.Uint32()
	return h, err
}

// Header is the version-dependent trailer that follows the common
// header. The three portable trampolines exist only in version 045.
type Header struct {
	ISA                             InstructionSet `json:"isa"`
	ISAFeaturesBitmap               uint32         `json:"isa_features_bitmap"`
	DexFileCount                    uint32         `json:"dex_file_count"`
	ExecutableOffset                uint32         `json:"executable_offset"`
	InterpreterToInterpreterBridge  uint32         `json:"interpreter_to_interpreter_bridge"`
	InterpreterToCompiledCodeBridge uint32         `json:"interpreter_to_compiled_code_bridge"`
	JniDlsymLookup                  uint32         `json:"jni_dlsym_lookup"`
	PortableImtConflictTrampoline   uint32         `json:"portable_imt_conflict_trampoline,omitempty"`
	PortableResolutionTrampoline    uint32         `json:"portable_resolution_trampoline,omitempty"`
	PortableToInterpreterBridge     uint32         `json:"portable_to_interpreter_bridge,omitempty"`
	QuickGenericJniTrampoline       uint32         `json:"quick_generic_jni_trampoline"`
	QuickImtConflictTrampoline      uint32         `json:"quick_imt_conflict_trampoline"`
	QuickResolutionTrampoline       uint32         `json:"quick_resolution_trampoline"`
	QuickToInterpreterBridge        uint32         `json:"quick_to_interpreter_bridge"`
	ImagePatchDelta                 int32          `json:"image_patch_delta"`
	ImageFileLocationOatChecksum    uint32         `json:"image_file_location_oat_checksum"`
	ImageFileLocationOatDataBegin   uint32         `json:"image_file_location_oat_data_begin"`
	KeyValueStoreSize               uint32         `json:"key_value_store_size"`
}

// HeaderSize returns the full header size (common prefix plus trailer)
// for version v.
func HeaderSize(v Version) uint32 {
	if v == V045 {
		return CommonHeaderSize + 18*4
	}
	return CommonHeaderSize + 15*4
}

func (h *Header) fields(v Version) []*uint32 {
	out := []*uint32{
		(*uint32)(&h.ISA), &h.ISAFeaturesBitmap, &h.DexFileCount, &h.ExecutableOffset,
		&h.InterpreterToInterpreterBridge, &h.InterpreterToCompiledCodeBridge,
		&h.JniDlsymLookup,
	}
	if v == V045 {
		out = append(out,
			&h.PortableImtConflictTrampoline,
			&h.PortableResolutionTrampoline,
			&h.PortableToInterpreterBridge,
		)
	}
	out = append(out,
		&h.QuickGenericJniTrampoline, &h.QuickImtConflictTrampoline,
		&h.QuickResolutionTrampoline, &h.QuickToInterpreterBridge,
		(*uint32)(nil), // image_patch_delta handled as int32
		&h.ImageFileLocationOatChecksum, &h.ImageFileLocationOatDataBegin,
		&h.KeyValueStoreSize,
	)
	return out
}

// ParseHeader decodes the trailer for version v.
func ParseHeader(b *cursor.Buffer, v Version) (Header, error) {
	var h Header
	for _, dst := range h.fields(v) {
		w, err := b.Uint32()
		if err != nil {
			return h, fmt.Errorf("%w: oat header: %v", ErrTruncated, err)
		}
		if dst == nil {
			h.ImagePatchDelta = int32(w)
		} else {
			*dst = w
		}
	}
	return h, nil
}

// Write encodes the trailer for version v.
func (h *Header) Write(w io.Writer, v Version) error {
	var word [4]byte
	for _, src := range h.fields(v) {
		var val uint32
		if src == nil {
			val = uint32(h.ImagePatchDelta)
		} else {
			val = *src
		}
		binary.LittleEndian.PutUint32(word[:], val)
		if _, err := w.Write(word[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteCommon encodes a common header prefix.
func WriteCommon(w io.Writer, h CommonHeader) error {
	var buf [CommonHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.Checksum)
	_, err := w.Write(buf[:])
	return err
}
