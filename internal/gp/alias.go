package gp

// AliasDerived returns the alias NWK address derived from a GPD identifier
// (A.3.6.3.3). The low 16 bits of the SrcID, or of the IEEE address, are
// used; reserved results are folded with the high half and, if still
// reserved, moved by 8 out of the reserved range. The derivation is pure.
func AliasDerived(id GpdID) uint16 {
	var lo, hi uint16
	switch id.App {
	case AppIDSrcID:
		lo = uint16(id.SrcID)
		hi = uint16(id.SrcID >> 16)
	case AppIDGPD:
		lo = uint16(id.IEEE)
		hi = uint16(id.IEEE >> 16)
	default:
		return AddrUnspecified
	}

	alias := lo
	if aliasReserved(alias) {
		alias = lo ^ hi
	}
	switch {
	case alias == 0x0000:
		alias += 0x0008
	case alias >= 0xFFF8:
		alias -= 0x0008
	}
	return alias
}

func aliasReserved(a uint16) bool {
	return a == 0x0000 || a >= 0xFFF8
}

// entryAlias is the alias a GPD uses on the network: the assigned alias
// when one is set, otherwise the derived alias.
func entryAlias(id GpdID, assigned bool, alias uint16) uint16 {
	if assigned {
		return alias
	}
	return AliasDerived(id)
}
