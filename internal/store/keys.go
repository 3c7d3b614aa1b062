package store

import (
	"strings"

	"github.com/danieljhkim/unitforge/internal/phase"
)

const sep = "\x00"

var (
	infoPrefix      = []byte("info/")
	installedPrefix = []byte("installed/")
	filesPrefix     = []byte("files/")
	fileIdxPrefix   = []byte("fileidx/")
	dirsPrefix      = []byte("dirs/")
	phasesPrefix    = []byte("phases/")
	instDirsPrefix  = []byte("instdirs/")
	updatesPrefix   = []byte("updates/")

	schemaVersionKey = []byte("meta/schema_version")
)

func join(prefix []byte, parts ...string) []byte {
	return append(append([]byte(nil), prefix...), strings.Join(parts, sep)...)
}

func infoKey(unit string) []byte      { return join(infoPrefix, unit) }
func installedKey(unit string) []byte { return join(installedPrefix, unit) }
func fileKey(path string) []byte      { return join(filesPrefix, path) }
func updateKey(name string) []byte    { return join(updatesPrefix, name) }

func fileIdxKey(unit, path string) []byte {
	return join(fileIdxPrefix, unit, path)
}

func fileIdxUnitPrefix(unit string) []byte {
	return join(fileIdxPrefix, unit, "")
}

func dirKey(unit, dir string) []byte {
	return join(dirsPrefix, unit, dir)
}

func dirUnitPrefix(unit string) []byte {
	return join(dirsPrefix, unit, "")
}

func phaseKey(unit, version string, p phase.Phase) []byte {
	return join(phasesPrefix, unit, version, p.String())
}

func phaseVersionPrefix(unit, version string) []byte {
	return join(phasesPrefix, unit, version, "")
}

func phaseUnitPrefix(unit string) []byte {
	return join(phasesPrefix, unit, "")
}

func instDirsKey(unit, version string) []byte {
	return join(instDirsPrefix, unit, version)
}
