package ir

import (
	"fmt"
	"sync"
)

// ArchID identifies the architecture of the machine instruction an IR
// instruction was lifted from.
type ArchID uint8

// ArchNone is the architecture of instructions not yet tagged.
const ArchNone ArchID = 0

var (
	archMu sync.RWMutex
	// Maps from architecture ID to architecture name and register namer.
	archs = make(map[ArchID]archInfo)
)

type archInfo struct {
	name    string
	regName func(reg uint32) string
}

// RegisterArch registers the name and register naming function of an
// architecture, used when printing IR.
func RegisterArch(id ArchID, name string, regName func(reg uint32) string) {
	archMu.Lock()
	defer archMu.Unlock()
	archs[id] = archInfo{name: name, regName: regName}
}

// String returns the name of the architecture.
func (id ArchID) String() string {
	archMu.RLock()
	defer archMu.RUnlock()
	if info, ok := archs[id]; ok {
		return info.name
	}
	return fmt.Sprintf("arch%d", uint8(id))
}

// RegName returns the name of the given register of the architecture.
func (id ArchID) RegName(reg uint32) string {
	archMu.RLock()
	info, ok := archs[id]
	archMu.RUnlock()
	if ok && info.regName != nil {
		return info.regName(reg)
	}
	return fmt.Sprintf("reg%d", reg)
}
