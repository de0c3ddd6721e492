package swapstate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
)

// PersistedAliceState is the flattened, schema-versioned projection of
// AliceState written to the keyed store (C6). Payloads are the minimum
// needed to resume, per spec.md §3: always State3 (nil only for Done);
// MoneroRestoreHeight for post-XMR-lock states; EncSig for EncSigLearned;
// XmrSpendKey for BtcRefunded.
type PersistedAliceState struct {
	SchemaVersion       int
	Tag                 AliceTag
	State3              *State3
	MoneroRestoreHeight uint64
	EncSig              *AdaptorSigRecord
	XmrSpendKey         []byte
	End                 EndState
}

// AdaptorSigRecord is the serializable form of a cryptoprovider adaptor
// signature: two scalars and a curve point, byte-encoded for storage.
// Kept separate from cryptoprovider.AdaptorSignature so this package does
// not need a serialization format opinion baked into the crypto package.
type AdaptorSigRecord struct {
	RHatCompressed []byte
	SHatBytes      []byte
}

const aliceSchemaVersion = 1

// AliceRuntimeContext carries the handles a persisted record cannot
// serialize (wallet references, watcher subscriptions) that a resumed
// in-memory state needs reattached. Empty today; components that gain such
// handles add fields here rather than widening AliceState itself.
type AliceRuntimeContext struct{}

// ToPersisted converts a runtime AliceState to its durable projection. The
// conversion is lossy: ephemeral handles in the runtime context, if any are
// ever added, are dropped.
func ToPersisted(s AliceState) *PersistedAliceState {
	p := &PersistedAliceState{SchemaVersion: aliceSchemaVersion, Tag: s.Tag()}

	switch v := s.(type) {
	case AliceWatchingForTxLockInMempool:
		p.State3 = v.State3
	case AliceWaitingForTxLockConfirmations:
		p.State3 = v.State3
	case AliceWaitingForEncSig:
		p.State3 = v.State3
		p.MoneroRestoreHeight = v.MoneroRestoreHeight
	case AliceEncSigLearned:
		p.State3 = v.State3
		p.MoneroRestoreHeight = v.MoneroRestoreHeight
		p.EncSig = encodeAdaptorSig(v.EncSig)
	case AliceCancelTimelockExpired:
		p.State3 = v.State3
		p.MoneroRestoreHeight = v.MoneroRestoreHeight
	case AliceBtcCancelled:
		p.State3 = v.State3
		p.MoneroRestoreHeight = v.MoneroRestoreHeight
	case AliceBtcPunishable:
		p.State3 = v.State3
		p.MoneroRestoreHeight = v.MoneroRestoreHeight
	case AliceBtcRefunded:
		p.State3 = v.State3
		p.MoneroRestoreHeight = v.MoneroRestoreHeight
		p.XmrSpendKey = append([]byte(nil), v.XmrSpendKey...)
	case AliceDone:
		p.End = v.End
	default:
		panic(fmt.Sprintf("swapstate: unhandled AliceState variant %T", s))
	}

	return p
}

// FromPersisted reconstructs a runtime AliceState from its durable
// projection. The mapping is the identity on variant tag: a persisted
// WaitingForTxLockConfirmations record resumes as
// AliceWaitingForTxLockConfirmations, not AliceWatchingForTxLockInMempool.
// An earlier implementation collapsed that case back to the pre-mempool
// state, replaying the mempool wait unnecessarily; spec.md §9 calls this
// out as a bug to fix, not behavior to preserve.
func FromPersisted(p *PersistedAliceState, _ *AliceRuntimeContext) (AliceState, error) {
	if p == nil {
		return nil, fmt.Errorf("swapstate: nil persisted alice state")
	}
	if p.Tag != TagAliceDone && p.State3 == nil {
		return nil, fmt.Errorf("swapstate: persisted state %q missing State3", p.Tag)
	}

	switch p.Tag {
	case TagWatchingForTxLockInMempool:
		return AliceWatchingForTxLockInMempool{State3: p.State3}, nil
	case TagWaitingForTxLockConfirmations:
		return AliceWaitingForTxLockConfirmations{State3: p.State3}, nil
	case TagWaitingForEncSig:
		return AliceWaitingForEncSig{State3: p.State3, MoneroRestoreHeight: p.MoneroRestoreHeight}, nil
	case TagEncSigLearned:
		sig, err := decodeAdaptorSig(p.EncSig)
		if err != nil {
			return nil, err
		}
		return AliceEncSigLearned{State3: p.State3, MoneroRestoreHeight: p.MoneroRestoreHeight, EncSig: sig}, nil
	case TagCancelTimelockExpired:
		return AliceCancelTimelockExpired{State3: p.State3, MoneroRestoreHeight: p.MoneroRestoreHeight}, nil
	case TagBtcCancelled:
		return AliceBtcCancelled{State3: p.State3, MoneroRestoreHeight: p.MoneroRestoreHeight}, nil
	case TagBtcPunishable:
		return AliceBtcPunishable{State3: p.State3, MoneroRestoreHeight: p.MoneroRestoreHeight}, nil
	case TagBtcRefunded:
		return AliceBtcRefunded{State3: p.State3, MoneroRestoreHeight: p.MoneroRestoreHeight, XmrSpendKey: append([]byte(nil), p.XmrSpendKey...)}, nil
	case TagAliceDone:
		return AliceDone{End: p.End}, nil
	default:
		return nil, fmt.Errorf("swapstate: unknown persisted alice tag %q", p.Tag)
	}
}

// PersistedBobState is Bob's mirror of PersistedAliceState.
type PersistedBobState struct {
	SchemaVersion int
	Tag           BobTag
	State3        *State3
	TransferProof []byte
	End           EndState
}

const bobSchemaVersion = 1

// BobRuntimeContext mirrors AliceRuntimeContext.
type BobRuntimeContext struct{}

// ToPersistedBob converts a runtime BobState to its durable projection.
func ToPersistedBob(s BobState) *PersistedBobState {
	p := &PersistedBobState{SchemaVersion: bobSchemaVersion, Tag: s.Tag()}

	switch v := s.(type) {
	case BobStarted:
		// no payload
	case BobExecutionSetupDone:
		p.State3 = v.State3
	case BobBtcLocked:
		p.State3 = v.State3
	case BobXmrLockProofReceived:
		p.State3 = v.State3
		p.TransferProof = append([]byte(nil), v.TransferProof...)
	case BobXmrLocked:
		p.State3 = v.State3
	case BobEncSigSent:
		p.State3 = v.State3
	case BobCancelTimelockExpired:
		p.State3 = v.State3
	case BobBtcCancelled:
		p.State3 = v.State3
	case BobDone:
		p.End = v.End
	default:
		panic(fmt.Sprintf("swapstate: unhandled BobState variant %T", s))
	}

	return p
}

// FromPersistedBob reconstructs a runtime BobState, identity on variant tag.
func FromPersistedBob(p *PersistedBobState, _ *BobRuntimeContext) (BobState, error) {
	if p == nil {
		return nil, fmt.Errorf("swapstate: nil persisted bob state")
	}

	switch p.Tag {
	case TagBobStarted:
		return BobStarted{}, nil
	case TagExecutionSetupDone:
		return BobExecutionSetupDone{State3: p.State3}, nil
	case TagBtcLocked:
		return BobBtcLocked{State3: p.State3}, nil
	case TagXmrLockProofReceived:
		return BobXmrLockProofReceived{State3: p.State3, TransferProof: append([]byte(nil), p.TransferProof...)}, nil
	case TagXmrLocked:
		return BobXmrLocked{State3: p.State3}, nil
	case TagEncSigSent:
		return BobEncSigSent{State3: p.State3}, nil
	case TagBobCancelTimelockExpired:
		return BobCancelTimelockExpired{State3: p.State3}, nil
	case TagBobBtcCancelled:
		return BobBtcCancelled{State3: p.State3}, nil
	case TagBobDone:
		return BobDone{End: p.End}, nil
	default:
		return nil, fmt.Errorf("swapstate: unknown persisted bob tag %q", p.Tag)
	}
}

func encodeAdaptorSig(sig *cryptoprovider.AdaptorSignature) *AdaptorSigRecord {
	if sig == nil {
		return nil
	}
	sBytes := sig.SHat.Bytes()
	return &AdaptorSigRecord{
		RHatCompressed: sig.RHat.SerializeCompressed(),
		SHatBytes:      sBytes[:],
	}
}

func decodeAdaptorSig(r *AdaptorSigRecord) (*cryptoprovider.AdaptorSignature, error) {
	if r == nil {
		return nil, nil
	}
	rHat, err := btcec.ParsePubKey(r.RHatCompressed)
	if err != nil {
		return nil, fmt.Errorf("swapstate: invalid persisted RHat: %w", err)
	}
	if len(r.SHatBytes) != 32 {
		return nil, fmt.Errorf("swapstate: invalid persisted SHat length %d", len(r.SHatBytes))
	}
	var sHatArr [32]byte
	copy(sHatArr[:], r.SHatBytes)
	var sHat secp256k1.ModNScalar
	sHat.SetBytes(&sHatArr)
	return &cryptoprovider.AdaptorSignature{RHat: rHat, SHat: &sHat}, nil
}
