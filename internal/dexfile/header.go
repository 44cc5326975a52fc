package dexfile

import (
	"bytes"
	"fmt"

	"undex/internal/dexfmt"
)

const (
	headerSize      = 0x70
	odexHeaderSize  = 0x28
	endianConstant  = 0x12345678
	reverseEndian   = 0x78563412
	noIndex         = 0xffffffff
	cdexMagicPrefix = "cdex"
)

var (
	dexMagicPrefix  = []byte("dex\n")
	odexMagicPrefix = []byte("dey\n")
)

// SupportedVersions lists the dex format versions this reader accepts.
var SupportedVersions = []int{35, 37, 38, 39, 40}

// Header is the fixed 0x70-byte dex header.
type Header struct {
	Magic         string   `json:"magic"`
	Version       int      `json:"version"`
	Checksum      uint32   `json:"checksum"`
	Signature     [20]byte `json:"-"`
	FileSize      int      `json:"file_size"`
	HeaderSize    int      `json:"header_size"`
	EndianTag     uint32   `json:"endian_tag"`
	LinkSize      int      `json:"link_size"`
	LinkOff       int      `json:"link_off"`
	MapOff        int      `json:"map_off"`
	StringIDsSize int      `json:"string_ids_size"`
	StringIDsOff  int      `json:"string_ids_off"`
	TypeIDsSize   int      `json:"type_ids_size"`
	TypeIDsOff    int      `json:"type_ids_off"`
	ProtoIDsSize  int      `json:"proto_ids_size"`
	ProtoIDsOff   int      `json:"proto_ids_off"`
	FieldIDsSize  int      `json:"field_ids_size"`
	FieldIDsOff   int      `json:"field_ids_off"`
	MethodIDsSize int      `json:"method_ids_size"`
	MethodIDsOff  int      `json:"method_ids_off"`
	ClassDefsSize int      `json:"class_defs_size"`
	ClassDefsOff  int      `json:"class_defs_off"`
	DataSize      int      `json:"data_size"`
	DataOff       int      `json:"data_off"`
}

// OdexHeader is the wrapper header of an optimized dex file.
type OdexHeader struct {
	Version    int    `json:"version"`
	DexOffset  int    `json:"dex_offset"`
	DexLength  int    `json:"dex_length"`
	DepsOffset int    `json:"deps_offset"`
	DepsLength int    `json:"deps_length"`
	OptOffset  int    `json:"opt_offset"`
	OptLength  int    `json:"opt_length"`
	Flags      uint32 `json:"flags"`
	Checksum   uint32 `json:"checksum"`
}

// parseVersion reads the three ascii digits of a "xxx\nNNN\0" magic.
func parseVersion(magic []byte) (int, error) {
	if magic[7] != 0 {
		return 0, dexfmt.FormatErrorf("magic is not NUL terminated")
	}
	v := 0
	for _, c := range magic[4:7] {
		if c < '0' || c > '9' {
			return 0, dexfmt.FormatErrorf("version %q is not numeric", magic[4:7])
		}
		v = v*10 + int(c-'0')
	}
	return v, nil
}

func isSupportedVersion(v int) bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}

// checkMagic validates the dex magic and returns the version.
func checkMagic(data []byte) (int, error) {
	if len(data) < 8 {
		return 0, dexfmt.FormatErrorf("file too short for magic (%d bytes)", len(data))
	}
	if bytes.HasPrefix(data, []byte(cdexMagicPrefix)) {
		return 0, dexfmt.FormatErrorf("compact dex (cdex) containers are not supported")
	}
	if !bytes.HasPrefix(data, dexMagicPrefix) {
		return 0, dexfmt.FormatErrorf("bad magic %q", data[:8])
	}
	v, err := parseVersion(data[:8])
	if err != nil {
		return 0, err
	}
	if v >= 41 {
		return 0, dexfmt.FormatErrorf("dex version %03d container files are not supported", v)
	}
	if !isSupportedVersion(v) {
		return 0, dexfmt.FormatErrorf("unsupported dex version %03d", v)
	}
	return v, nil
}

func parseOdexHeader(b dexfmt.Buffer) (*OdexHeader, error) {
	if b.Len() < odexHeaderSize {
		return nil, dexfmt.FormatErrorf("truncated odex header (%d bytes)", b.Len())
	}
	raw, _ := b.Slice(0, 8)
	v, err := parseVersion(raw)
	if err != nil {
		return nil, err
	}
	if v != 35 && v != 36 {
		return nil, dexfmt.FormatErrorf("unsupported odex version %03d", v)
	}
	h := &OdexHeader{Version: v}
	fields := []*int{&h.DexOffset, &h.DexLength, &h.DepsOffset, &h.DepsLength, &h.OptOffset, &h.OptLength}
	for i, p := range fields {
		if *p, err = b.U32(8 + 4*i); err != nil {
			return nil, dexfmt.FormatErrorf("odex header: %v", err)
		}
	}
	h.Flags, _ = b.Uint32(0x20)
	h.Checksum, _ = b.Uint32(0x24)
	return h, nil
}

func parseHeader(b dexfmt.Buffer, validateMagic bool) (Header, error) {
	var h Header
	if b.Len() < headerSize {
		return h, dexfmt.FormatErrorf("truncated header (%d bytes, need %d)", b.Len(), headerSize)
	}
	raw := b.Bytes()
	if validateMagic {
		v, err := checkMagic(raw)
		if err != nil {
			return h, err
		}
		h.Version = v
	} else if v, err := parseVersion(raw[:8]); err == nil {
		h.Version = v
	} else {
		h.Version = 35
	}
	h.Magic = string(raw[:8])
	h.Checksum, _ = b.Uint32(8)
	copy(h.Signature[:], raw[12:32])
	h.EndianTag, _ = b.Uint32(40)
	if validateMagic {
		switch h.EndianTag {
		case endianConstant:
		case reverseEndian:
			return h, dexfmt.FormatErrorf("big-endian dex files are not supported")
		default:
			return h, dexfmt.FormatErrorf("invalid endian tag 0x%08x", h.EndianTag)
		}
	}
	fields := []struct {
		off int
		p   *int
	}{
		{32, &h.FileSize}, {36, &h.HeaderSize},
		{44, &h.LinkSize}, {48, &h.LinkOff}, {52, &h.MapOff},
		{56, &h.StringIDsSize}, {60, &h.StringIDsOff},
		{64, &h.TypeIDsSize}, {68, &h.TypeIDsOff},
		{72, &h.ProtoIDsSize}, {76, &h.ProtoIDsOff},
		{80, &h.FieldIDsSize}, {84, &h.FieldIDsOff},
		{88, &h.MethodIDsSize}, {92, &h.MethodIDsOff},
		{96, &h.ClassDefsSize}, {100, &h.ClassDefsOff},
		{104, &h.DataSize}, {108, &h.DataOff},
	}
	for _, f := range fields {
		v, err := b.U32(f.off)
		if err != nil {
			return h, dexfmt.FormatErrorf("header field at 0x%x: %v", f.off, err)
		}
		*f.p = v
	}
	return h, nil
}

func (h Header) String() string {
	return fmt.Sprintf("dex %03d, %d strings, %d types, %d protos, %d fields, %d methods, %d classes",
		h.Version, h.StringIDsSize, h.TypeIDsSize, h.ProtoIDsSize, h.FieldIDsSize, h.MethodIDsSize, h.ClassDefsSize)
}
