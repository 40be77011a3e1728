package substrate

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/centrifuge/go-substrate-rpc-client/v4/xxhash"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

// Runtime types, in SCALE field order.

type balanceLock struct {
	ID      types.Bytes8
	Amount  types.U128
	Reasons types.U8
}

// stakingLedger omits the trailing `claimed_rewards`; it is not needed and
// its presence depends on the runtime version.
type stakingLedger struct {
	Stash     [common.AddressLen]byte
	Total     types.UCompact
	Active    types.UCompact
	Unlocking []unlockChunk
}

type unlockChunk struct {
	Value types.UCompact
	Era   types.UCompact
}

// keyValue is a `(StorageKey, StorageData)` argument of `System.set_storage`.
type keyValue struct {
	Key   types.Bytes
	Value types.Bytes
}

func compactToBig(c types.UCompact) *big.Int {
	v := big.Int(c)
	return new(big.Int).Set(&v)
}

func encodeLocks(locks []nodeapi.StakeLock) ([]byte, error) {
	raw := make([]balanceLock, len(locks))
	for i, l := range locks {
		if l.Amount == nil || l.Amount.Sign() < 0 {
			return nil, fmt.Errorf("lock %q has invalid amount %v", l.ID, l.Amount)
		}
		if l.Amount.BitLen() > 128 {
			return nil, fmt.Errorf("lock %q amount %s overflows u128", l.ID, l.Amount)
		}
		raw[i] = balanceLock{
			ID:      types.Bytes8(l.ID),
			Amount:  types.NewU128(*l.Amount),
			Reasons: types.U8(l.Reasons),
		}
	}
	return codec.Encode(raw)
}

func decodeLocks(value []byte) ([]nodeapi.StakeLock, error) {
	if len(value) == 0 {
		return []nodeapi.StakeLock{}, nil
	}
	var raw []balanceLock
	if err := codec.Decode(value, &raw); err != nil {
		return nil, fmt.Errorf("decoding balance locks: %w", err)
	}
	locks := make([]nodeapi.StakeLock, len(raw))
	for i, l := range raw {
		amount := new(big.Int)
		if l.Amount.Int != nil {
			amount.Set(l.Amount.Int)
		}
		locks[i] = nodeapi.StakeLock{
			ID:      nodeapi.LockID(l.ID),
			Amount:  amount,
			Reasons: nodeapi.Reasons(l.Reasons),
		}
	}
	return locks, nil
}

func decodeLedger(value []byte) (*nodeapi.StakingLedger, error) {
	var raw stakingLedger
	if err := codec.Decode(value, &raw); err != nil {
		return nil, fmt.Errorf("decoding staking ledger: %w", err)
	}
	ledger := &nodeapi.StakingLedger{
		Stash:  common.Address(raw.Stash),
		Total:  compactToBig(raw.Total),
		Active: compactToBig(raw.Active),
	}
	for _, chunk := range raw.Unlocking {
		era := compactToBig(chunk.Era)
		if !era.IsUint64() || era.Uint64() > 0xffffffff {
			return nil, fmt.Errorf("unlock chunk era %s out of range", era)
		}
		ledger.Unlocking = append(ledger.Unlocking, nodeapi.UnlockChunk{
			Value: compactToBig(chunk.Value),
			Era:   uint32(era.Uint64()),
		})
	}
	return ledger, nil
}

// mapPrefix returns the storage prefix of all entries of a map,
// twox128(pallet) ++ twox128(item).
func mapPrefix(pallet, item string) []byte {
	prefix := xxhash.New128([]byte(pallet)).Sum(nil)
	return append(prefix, xxhash.New128([]byte(item)).Sum(nil)...)
}

// controllerFromKey extracts the controller from a `Staking.Ledger` key,
// prefix ++ blake2_128(controller) ++ controller.
func controllerFromKey(prefix, key []byte) (common.Address, error) {
	if len(key) != len(prefix)+16+common.AddressLen {
		return common.Address{}, fmt.Errorf("unexpected ledger key length %d", len(key))
	}
	return common.AddressFromBytes(key[len(key)-common.AddressLen:])
}

func storageItems(entries []nodeapi.StorageEntry) []keyValue {
	items := make([]keyValue, len(entries))
	for i, e := range entries {
		items[i] = keyValue{Key: types.NewBytes(e.Key), Value: types.NewBytes(e.Value)}
	}
	return items
}

func ss58Address(publicKey []byte, prefix uint16) (string, error) {
	addr, err := common.AddressFromBytes(publicKey)
	if err != nil {
		return "", err
	}
	return addr.SS58(prefix), nil
}

// verifyStorage checks that every entry holds its patched value, as read
// by read.
func verifyStorage(entries []nodeapi.StorageEntry, read func(key []byte) ([]byte, error)) error {
	var mismatched int
	var first []byte
	for _, e := range entries {
		value, err := read(e.Key)
		if err != nil {
			return fmt.Errorf("reading back %s: %w", codec.HexEncodeToString(e.Key), err)
		}
		if !bytes.Equal(value, e.Value) {
			if mismatched == 0 {
				first = e.Key
			}
			mismatched++
		}
	}
	if mismatched > 0 {
		return fmt.Errorf("%w: %d of %d entries differ, first %s",
			nodeapi.ErrPatchNotApplied, mismatched, len(entries), codec.HexEncodeToString(first))
	}
	return nil
}
