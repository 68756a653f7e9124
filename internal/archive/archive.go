// Package archive reads ar(1) archives with a SysV symbol index, the
// "pull on unresolved demand" member extraction spec.md scopes in (§1
// Non-goals: "archive member extraction policy beyond 'pull on unresolved
// demand'").
//
// Grounded on AimiP02-tinyLinker's archive.go for the member-scan loop
// shape (skip the "!<arch>\n" magic, walk fixed-size headers, 2-byte pad
// between members, long-name resolution via the "//" extended-name-table
// member), filled out against the SysV ar(5) format for the header field
// layout the teacher's snapshot didn't retrieve.
package archive

import (
	"strconv"
	"strings"

	"github.com/nyxlink/rvld/internal/diag"
)

const Magic = "!<arch>\n"

const headerSize = 60

// header is the fixed 60-byte ar member header.
type header struct {
	name    [16]byte
	modTime [12]byte
	uid     [6]byte
	gid     [6]byte
	mode    [8]byte
	size    [10]byte
	end     [2]byte // "`\n"
}

func parseHeader(b []byte) header {
	var h header
	copy(h.name[:], b[0:16])
	copy(h.modTime[:], b[16:28])
	copy(h.uid[:], b[28:34])
	copy(h.gid[:], b[34:40])
	copy(h.mode[:], b[40:48])
	copy(h.size[:], b[48:58])
	copy(h.end[:], b[58:60])
	return h
}

func (h header) size64() int {
	s := strings.TrimSpace(string(h.size[:]))
	n, _ := strconv.ParseInt(s, 10, 64)
	return int(n)
}

func (h header) rawName() string {
	return strings.TrimRight(string(h.name[:]), " ")
}

func (h header) isSymtab() bool {
	n := h.rawName()
	return n == "/" || n == "/SYM64/"
}

func (h header) isExtendedNames() bool {
	return h.rawName() == "//"
}

// Member is one extracted archive member: its resolved name and raw
// content.
type Member struct {
	Name     string
	Contents []byte
}

// Extract walks every member of an ar archive, resolving long names via
// the "//" extended name table member and skipping the "/" (or "/SYM64/")
// symbol index member -- this core does not consult the SysV symbol index
// to decide which members to pull; that decision is made later, driven
// purely by unresolved-symbol demand during symbol resolution (spec §4.7
// phase 1), mirroring ReadArchiveMembers + MarkLiveObjects in the teacher.
func Extract(contents []byte) ([]Member, error) {
	if len(contents) < len(Magic) || string(contents[:len(Magic)]) != Magic {
		return nil, diag.New(diag.UnrecognizedInput, "not an ar archive")
	}

	pos := len(Magic)
	var extendedNames []byte
	var members []Member

	for len(contents)-pos > 1 {
		if pos%2 == 1 {
			pos++
		}
		if pos+headerSize > len(contents) {
			break
		}

		h := parseHeader(contents[pos : pos+headerSize])
		dataStart := pos + headerSize
		size := h.size64()
		dataEnd := dataStart + size
		if dataEnd > len(contents) {
			return nil, diag.New(diag.UnrecognizedInput, "ar archive truncated")
		}
		data := contents[dataStart:dataEnd]
		pos = dataEnd

		switch {
		case h.isSymtab():
			continue
		case h.isExtendedNames():
			extendedNames = data
			continue
		default:
			members = append(members, Member{
				Name:     resolveName(h, extendedNames),
				Contents: data,
			})
		}
	}

	return members, nil
}

// resolveName decodes a SysV-short ("name/       ") or SysV-long
// ("/123           " -> offset into the "//" table) member name.
func resolveName(h header, extendedNames []byte) string {
	raw := h.rawName()
	if strings.HasPrefix(raw, "/") && len(raw) > 1 {
		if off, err := strconv.Atoi(raw[1:]); err == nil && extendedNames != nil && off < len(extendedNames) {
			end := off
			for end < len(extendedNames) && extendedNames[end] != '\n' {
				end++
			}
			return strings.TrimRight(string(extendedNames[off:end]), "/")
		}
	}
	return strings.TrimSuffix(raw, "/")
}
