// Package archive packs directories into .ipk archives and unpacks them.
//
// An .ipk is a gzip-compressed tar. Entries carry paths relative to the
// packed root; regular files, directories and symlinks that stay inside
// the root are supported.
//
// # Safety
//
// [Unpack] treats traversal checks as part of its contract, not an option:
// absolute names, names escaping the destination through "..", symlinks
// pointing outside the destination, hard links and device nodes all fail
// with an ARCHIVE error. Extraction happens in a staging directory beside
// the destination and entries are moved into place only after the whole
// archive was accepted, so a rejected archive leaves the destination
// exactly as it was.
//
// # Building
//
// [Build] produces dist/<name>-<version>.ipk from a project's descriptor
// and src/ tree together with the detached <archive>.hash digest file.
package archive
