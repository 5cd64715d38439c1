package gp

// SecRequest is a GP-SEC.request from the stub: the stub has received a
// GPDF and asks which key, if any, to process it with.
type SecRequest struct {
	ID           GpdID
	Endpoint     uint8
	FrameCounter uint32
	Level        SecLevel
	// KeyType is the one-bit GPDF key type: 0 shared, 1 individual.
	KeyType uint8
	Handle  uint8
}

// SecResponse answers a SecRequest.
type SecResponse struct {
	Status  SecDecision
	KeyType KeyType
	Key     Key
	Handle  uint8
}

// sharedKey is the network-wide GP shared key configuration.
type sharedKey struct {
	Type KeyType
	Key  Key
}

// keyTypeMapped reports whether a GPDF key type bit is compatible with the
// key type stored in an entry. A shared GPDF key may be any of the network
// or group keys; an individual one must be an out-of-box or derived key.
func keyTypeMapped(entry KeyType, gpdfKeyType uint8) bool {
	switch gpdfKeyType {
	case 0:
		return entry == KeyTypeNwk || entry == KeyTypeGpdGroup || entry == KeyTypeNwkDerivedGroup
	case 1:
		return entry == KeyTypeOutOfBox || entry == KeyTypeDerivedIndividual
	}
	return false
}

// recoverKey hands out the key stored in an entry verbatim. No key is ever
// derived here.
func recoverKey(entryType KeyType, entryKey Key, status SecDecision) SecResponse {
	return SecResponse{Status: status, KeyType: entryType, Key: entryKey}
}

// evaluateProxy implements the proxy side of GPDF security processing.
func evaluateProxy(t *ProxyTable, inCommMode bool, shared sharedKey, req SecRequest) SecResponse {
	e, ok := t.Find(req.ID)
	if ok {
		if e.Options.EntryActive {
			failed := false
			if e.Options.SecUse {
				if req.Level != e.SecLevel || req.FrameCounter <= e.FrameCounter {
					failed = true
				} else if !keyTypeMapped(e.KeyType, req.KeyType) {
					failed = true
				}
			} else if req.Level != SecLevelNone {
				failed = true
			}

			if failed {
				switch {
				case !inCommMode:
					return SecResponse{Status: SecDrop}
				case req.Level == SecLevelNone:
					return SecResponse{Status: SecMatch}
				default:
					return SecResponse{Status: SecPassUnprocessed}
				}
			}

			status := SecMatch
			if endpointMismatch(req.ID.App, e.Endpoint, req.Endpoint) {
				status = SecTxThenDrop
			}
			if req.Level == SecLevelNone {
				return SecResponse{Status: status}
			}
			return recoverKey(e.KeyType, e.Key, status)
		}
		if !inCommMode {
			return SecResponse{Status: SecDrop}
		}
	}
	return unknownGpdSecurity(req, shared, SecPassUnprocessed)
}

// unknownGpdSecurity resolves a GPDF for which no usable entry exists.
// noSharedKey is the verdict for an encrypted frame when no shared key is
// configured.
func unknownGpdSecurity(req SecRequest, shared sharedKey, noSharedKey SecDecision) SecResponse {
	if req.KeyType != 0 {
		return SecResponse{Status: SecPassUnprocessed, KeyType: KeyTypeOutOfBox}
	}
	if req.Level != SecLevelNone && shared.Key.IsZero() {
		return SecResponse{Status: noSharedKey}
	}
	kt := shared.Type
	if req.Level == SecLevelNone {
		kt = KeyTypeNone
	}
	return SecResponse{Status: SecMatch, KeyType: kt, Key: shared.Key}
}

// evaluateSink implements the sink side of GPDF security processing.
func evaluateSink(t *SinkTable, shared sharedKey, req SecRequest) SecResponse {
	e, ok := t.Find(req.ID)
	if ok && e.Complete {
		if req.Level != SecLevelNone {
			if !e.Options.SecUse ||
				req.Level != e.SecLevel ||
				req.FrameCounter <= e.FrameCounter ||
				!keyTypeMapped(e.KeyType, req.KeyType) {
				return SecResponse{Status: SecDrop}
			}
		}
		status := SecMatch
		if endpointMismatch(req.ID.App, e.Endpoint, req.Endpoint) {
			status = SecTxThenDrop
		}
		if req.Level == SecLevelNone {
			return SecResponse{Status: status}
		}
		return recoverKey(e.KeyType, e.Key, status)
	}

	if req.KeyType == 0 {
		return unknownGpdSecurity(req, shared, SecDrop)
	}
	if ok {
		return recoverKey(e.KeyType, e.Key, SecMatch)
	}
	return SecResponse{Status: SecDrop}
}

// tunneledKeyType folds a full key type from a tunneled command into the
// one-bit GPDF key type.
func tunneledKeyType(kt KeyType) uint8 {
	if kt >= KeyTypeOutOfBox {
		return 1
	}
	return 0
}
