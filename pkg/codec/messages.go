package codec

import (
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// PublicKey is the canonical wire form of a secp256k1 compressed public
// key (33 bytes).
type PublicKey struct {
	Bytes []byte
}

func (PublicKey) TypeTag() string { return "SBTC_PUBLIC_KEY" }

func (p PublicKey) appendFields(b []byte) []byte {
	return appendBytesField(b, 1, p.Bytes)
}

func (p *PublicKey) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		p.Bytes = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// SignerDecision is the gossiped (can_accept, can_sign) vote for a
// request (spec §3 SignerVote, §4.7 signer loop).
type SignerDecision struct {
	RequestOutpointTxid []byte // 32 bytes, deposit case
	RequestOutpointVout uint32
	WithdrawalRequestID uint64 // withdrawal case, 0 for deposits
	CanAccept           bool
	CanSign             bool
}

func (SignerDecision) TypeTag() string { return "SBTC_SIGNER_DECISION" }

func (d SignerDecision) appendFields(b []byte) []byte {
	b = appendBytesField(b, 1, d.RequestOutpointTxid)
	b = appendUint64Field(b, 2, uint64(d.RequestOutpointVout))
	b = appendUint64Field(b, 3, d.WithdrawalRequestID)
	b = appendBoolField(b, 4, d.CanAccept)
	b = appendBoolField(b, 5, d.CanSign)
	return b
}

func (d *SignerDecision) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		d.RequestOutpointTxid = append([]byte(nil), v...)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		d.RequestOutpointVout = uint32(v)
		return buf[n:], nil
	case 3:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		d.WithdrawalRequestID = v
		return buf[n:], nil
	case 4:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		d.CanAccept = v != 0
		return buf[n:], nil
	case 5:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		d.CanSign = v != 0
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// BitcoinTransactionSignRequest is broadcast by the coordinator to kick
// off validation + ACK collection for a candidate sweep transaction
// (spec §4.4).
type BitcoinTransactionSignRequest struct {
	Tx           []byte   // raw consensus-encoded transaction
	AggregateKey []byte   // 33-byte compressed
	ChainTip     []byte   // 32 bytes
	Sighashes    [][]byte // one 32-byte taproot sighash per input, in input order
}

func (BitcoinTransactionSignRequest) TypeTag() string { return "SBTC_BITCOIN_TX_SIGN_REQUEST" }

func (r BitcoinTransactionSignRequest) appendFields(b []byte) []byte {
	b = appendBytesField(b, 1, r.Tx)
	b = appendBytesField(b, 2, r.AggregateKey)
	b = appendBytesField(b, 3, r.ChainTip)
	for _, sh := range r.Sighashes {
		b = appendBytesField(b, 4, sh)
	}
	return b
}

func (r *BitcoinTransactionSignRequest) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		r.Tx = append([]byte(nil), v...)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		r.AggregateKey = append([]byte(nil), v...)
		return buf[n:], nil
	case 3:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		r.ChainTip = append([]byte(nil), v...)
		return buf[n:], nil
	case 4:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		r.Sighashes = append(r.Sighashes, append([]byte(nil), v...))
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// BitcoinTransactionSignAck is the participant's reply confirming it
// validated the requested transaction (spec §4.4 step 1).
type BitcoinTransactionSignAck struct {
	TxidSighash  []byte // 32 bytes, identifies the specific request
	SignerPubkey []byte // 33 bytes
}

func (BitcoinTransactionSignAck) TypeTag() string { return "SBTC_BITCOIN_TX_SIGN_ACK" }

func (a BitcoinTransactionSignAck) appendFields(b []byte) []byte {
	b = appendBytesField(b, 1, a.TxidSighash)
	b = appendBytesField(b, 2, a.SignerPubkey)
	return b
}

func (a *BitcoinTransactionSignAck) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		a.TxidSighash = append([]byte(nil), v...)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		a.SignerPubkey = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// DkgPublicShares carries one participant's DKG public-share polynomial
// commitments, keyed by recipient signer index. The map is serialized in
// ascending key order (codec invariant 2-3).
type DkgPublicShares struct {
	SignerIndex uint32
	Shares      map[uint32][]byte
}

func (DkgPublicShares) TypeTag() string { return "SBTC_DKG_PUBLIC_SHARES" }

func (m DkgPublicShares) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(m.SignerIndex))

	keys := make([]uint32, 0, len(m.Shares))
	for k := range m.Shares {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		entry := dkgShareEntry{Key: k, Value: m.Shares[k]}
		b = appendMessageField(b, 2, entry)
	}
	return b
}

func (m *DkgPublicShares) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.SignerIndex = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		var entry dkgShareEntry
		if err := Decode(v, &entry); err != nil {
			return nil, err
		}
		if m.Shares == nil {
			m.Shares = make(map[uint32][]byte)
		}
		m.Shares[entry.Key] = entry.Value
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

type dkgShareEntry struct {
	Key   uint32
	Value []byte
}

func (dkgShareEntry) TypeTag() string { return "SBTC_DKG_SHARE_ENTRY" }

func (e dkgShareEntry) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(e.Key))
	b = appendBytesField(b, 2, e.Value)
	return b
}

func (e *dkgShareEntry) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		e.Key = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		e.Value = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// DkgBegin is broadcast by the coordinator to start a DKG round (spec
// §4.4 "DKG state machine").
type DkgBegin struct {
	NumSigners uint32
	Threshold  uint32
}

func (DkgBegin) TypeTag() string { return "SBTC_DKG_BEGIN_MSG" }

func (m DkgBegin) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(m.NumSigners))
	b = appendUint64Field(b, 2, uint64(m.Threshold))
	return b
}

func (m *DkgBegin) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.NumSigners = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.Threshold = uint32(v)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// DkgPublicSharesCommitment carries one participant's DKG public-key
// commitment broadcast during DkgPublicGather (the wire form of
// pkg/dkg's PublicShares message).
type DkgPublicSharesCommitment struct {
	SignerIndex uint32
	Commitments []byte
}

func (DkgPublicSharesCommitment) TypeTag() string { return "SBTC_DKG_PUBLIC_SHARES_COMMIT_MSG" }

func (m DkgPublicSharesCommitment) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(m.SignerIndex))
	b = appendBytesField(b, 2, m.Commitments)
	return b
}

func (m *DkgPublicSharesCommitment) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.SignerIndex = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.Commitments = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// DkgPrivateShares carries one participant's encrypted per-recipient
// shares during DkgPrivateGather.
type DkgPrivateShares struct {
	SignerIndex uint32
	Encrypted   map[uint32][]byte
}

func (DkgPrivateShares) TypeTag() string { return "SBTC_DKG_PRIVATE_SHARES" }

func (m DkgPrivateShares) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(m.SignerIndex))

	keys := make([]uint32, 0, len(m.Encrypted))
	for k := range m.Encrypted {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		entry := dkgShareEntry{Key: k, Value: m.Encrypted[k]}
		b = appendMessageField(b, 2, entry)
	}
	return b
}

func (m *DkgPrivateShares) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.SignerIndex = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		var entry dkgShareEntry
		if err := Decode(v, &entry); err != nil {
			return nil, err
		}
		if m.Encrypted == nil {
			m.Encrypted = make(map[uint32][]byte)
		}
		m.Encrypted[entry.Key] = entry.Value
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// DkgEndBegin tells participants to finalize and compute the aggregate
// key.
type DkgEndBegin struct{}

func (DkgEndBegin) TypeTag() string { return "SBTC_DKG_END_BEGIN_MSG" }

func (DkgEndBegin) appendFields(b []byte) []byte { return b }

func (m *DkgEndBegin) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	return skipValue(typ, buf)
}

// DkgEnd is a participant's confirmation that it completed the round,
// reporting the group's aggregate key.
type DkgEnd struct {
	SignerIndex  uint32
	AggregateKey []byte // 33-byte compressed
}

func (DkgEnd) TypeTag() string { return "SBTC_DKG_END_MSG" }

func (m DkgEnd) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(m.SignerIndex))
	b = appendBytesField(b, 2, m.AggregateKey)
	return b
}

func (m *DkgEnd) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.SignerIndex = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.AggregateKey = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// SignNonceCommit carries one participant's per-input nonce commitment
// (spec §4.4 step 3).
type SignNonceCommit struct {
	SignerIndex uint32
	InputIndex  uint32
	Nonce       []byte // 33-byte compressed point
}

func (SignNonceCommit) TypeTag() string { return "SBTC_SIGN_NONCE_MSG" }

func (m SignNonceCommit) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(m.SignerIndex))
	b = appendUint64Field(b, 2, uint64(m.InputIndex))
	b = appendBytesField(b, 3, m.Nonce)
	return b
}

func (m *SignNonceCommit) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.SignerIndex = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.InputIndex = uint32(v)
		return buf[n:], nil
	case 3:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.Nonce = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// SignShareCommit carries one participant's per-input signature share
// (spec §4.4 step 3).
type SignShareCommit struct {
	SignerIndex uint32
	InputIndex  uint32
	Share       []byte // 32 bytes
}

func (SignShareCommit) TypeTag() string { return "SBTC_SIGN_SHARE_MSG" }

func (m SignShareCommit) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, uint64(m.SignerIndex))
	b = appendUint64Field(b, 2, uint64(m.InputIndex))
	b = appendBytesField(b, 3, m.Share)
	return b
}

func (m *SignShareCommit) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.SignerIndex = uint32(v)
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.InputIndex = uint32(v)
		return buf[n:], nil
	case 3:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.Share = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// SignEndOfAcks is a coordinator-broadcast signal that ACK collection
// closed with at least a threshold of participants (spec §4.4 step 2
// boundary).
type SignEndOfAcks struct{}

func (SignEndOfAcks) TypeTag() string { return "SBTC_SIGN_END_OF_ACKS_MSG" }

func (SignEndOfAcks) appendFields(b []byte) []byte { return b }

func (m *SignEndOfAcks) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	return skipValue(typ, buf)
}

// SignAck is a participant's confirmation that it validated a sign
// request, identified by signer index rather than (txid, sighash) so it
// mirrors pkg/signing's Ack exactly (unlike the index-less
// BitcoinTransactionSignAck above, which this message supersedes for
// the live signing round).
type SignAck struct {
	SignerIndex uint32
}

func (SignAck) TypeTag() string { return "SBTC_SIGN_ACK_MSG" }

func (m SignAck) appendFields(b []byte) []byte {
	return appendUint64Field(b, 1, uint64(m.SignerIndex))
}

func (m *SignAck) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m.SignerIndex = uint32(v)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// Envelope is the gossip wire payload wrapping any application message:
// a type tag, canonical-encoded payload, and the sender's
// bitcoin-chain-tip-at-send (spec §4.5 "each message embeds the sender's
// bitcoin-chain-tip-at-send").
type Envelope struct {
	TypeTag  string
	Payload  []byte
	ChainTip []byte // 32 bytes
	// SenderSignature is an ECDSA signature over
	// hash(type_tag || payload || chain_tip), set by the gossip overlay.
	SenderSignature []byte
}

func (Envelope) TypeTag() string { return "SBTC_ENVELOPE" }

func (e Envelope) appendFields(b []byte) []byte {
	b = appendStringField(b, 1, e.TypeTag)
	b = appendBytesField(b, 2, e.Payload)
	b = appendBytesField(b, 3, e.ChainTip)
	b = appendBytesField(b, 4, e.SenderSignature)
	return b
}

func (e *Envelope) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeString(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		e.TypeTag = v
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		e.Payload = append([]byte(nil), v...)
		return buf[n:], nil
	case 3:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		e.ChainTip = append([]byte(nil), v...)
		return buf[n:], nil
	case 4:
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		e.SenderSignature = append([]byte(nil), v...)
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}
