package externalfile

import (
	"fmt"
	"strconv"
	"strings"
)

const arMagic = "!<arch>\n"

// findArMember scans data (the full archive file) for the member
// named name, returning its raw bytes. Supports plain short names (the
// 16-byte name field, trailing spaces and an optional GNU "/"
// terminator trimmed) and BSD extended names (name field "#1/<len>",
// the real name stored as the first len bytes of the member's own
// data). GNU's "//" long-name-table and "/" symbol-table members are
// skipped; this package has no use for either.
func findArMember(data []byte, name string) ([]byte, error) {
	if len(data) < len(arMagic) || string(data[:len(arMagic)]) != arMagic {
		return nil, fmt.Errorf("externalfile: not an ar archive")
	}

	pos := len(arMagic)
	for pos+60 <= len(data) {
		hdr := data[pos : pos+60]
		rawName := strings.TrimRight(string(hdr[0:16]), " ")
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("externalfile: malformed ar member size %q", sizeStr)
		}

		memberStart := pos + 60
		if int64(memberStart)+size > int64(len(data)) {
			return nil, fmt.Errorf("externalfile: ar member %q overruns archive", rawName)
		}
		memberData := data[memberStart : int64(memberStart)+size]

		resolvedName := rawName
		if strings.HasPrefix(rawName, "#1/") {
			nameLen, err := strconv.Atoi(strings.TrimPrefix(rawName, "#1/"))
			if err == nil && nameLen <= len(memberData) {
				resolvedName = strings.TrimRight(string(memberData[:nameLen]), "\x00")
				memberData = memberData[nameLen:]
			}
		} else {
			resolvedName = strings.TrimSuffix(resolvedName, "/")
		}

		if resolvedName == name {
			return memberData, nil
		}

		next := int64(memberStart) + size
		if size%2 != 0 {
			next++ // members are padded to an even offset
		}
		pos = int(next)
	}

	return nil, fmt.Errorf("externalfile: no member named %q in archive", name)
}

// splitArchiveRef splits an OSO-style reference such as
// "/path/to/lib.a(object.o)" into its archive path and member name. ok
// is false for a plain path with no archive-member suffix.
func splitArchiveRef(ref string) (archivePath, member string, ok bool) {
	if !strings.HasSuffix(ref, ")") {
		return "", "", false
	}
	open := strings.LastIndexByte(ref, '(')
	if open < 0 {
		return "", "", false
	}
	return ref[:open], ref[open+1 : len(ref)-1], true
}
