package nodes

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/wehubfusion/treeview/pkg/hds"
)

var (
	zipMagic   = []byte{'P', 'K', 0x03, 0x04}
	zipEmpty   = []byte{'P', 'K', 0x05, 0x06}
	fitsMagic  = []byte("SIMPLE  =")
	ustarMagic = []byte("ustar")
	utf8BOM    = []byte{0xef, 0xbb, 0xbf}
)

// IsZipMagic reports whether magic starts a zip archive.
func IsZipMagic(magic []byte) bool {
	return bytes.HasPrefix(magic, zipMagic) || bytes.HasPrefix(magic, zipEmpty)
}

// IsTarMagic reports whether magic holds a POSIX tar header. It needs at
// least 262 bytes.
func IsTarMagic(magic []byte) bool {
	return len(magic) >= 262 && bytes.Equal(magic[257:262], ustarMagic)
}

// IsFITSMagic reports whether magic starts a FITS primary header.
func IsFITSMagic(magic []byte) bool {
	return bytes.HasPrefix(magic, fitsMagic)
}

// IsXMLMagic reports whether magic looks like the start of an XML document:
// optional byte order mark and white space followed by a tag.
func IsXMLMagic(magic []byte) bool {
	magic = bytes.TrimPrefix(magic, utf8BOM)
	magic = bytes.TrimLeft(magic, " \t\r\n")
	if len(magic) < 2 || magic[0] != '<' {
		return false
	}
	switch c := magic[1]; {
	case c == '?', c == '!':
		return true
	default:
		r, _ := utf8.DecodeRune(magic[1:])
		return r == '_' || r == ':' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r > utf8.RuneSelf
	}
}

// IsHDSDump reports whether name is that of a YAML HDS container dump.
func IsHDSDump(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), hds.DumpSuffix)
}
