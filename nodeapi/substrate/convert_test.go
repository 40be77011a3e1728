package substrate

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/stretchr/testify/require"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
)

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestEncodeLocks(t *testing.T) {
	amount := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000_000_000))
	raw, err := encodeLocks([]nodeapi.StakeLock{
		{ID: nodeapi.StakingLockID, Amount: amount, Reasons: nodeapi.ReasonsAll},
	})
	require.NoError(t, err)
	require.Equal(t, mustHex(t, "04"+"7374616b696e6720"+"0080c6a47e8d03000000000000000000"+"02"), raw)

	locks, err := decodeLocks(raw)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	require.True(t, locks[0].IsStaking())
	require.Equal(t, 0, amount.Cmp(locks[0].Amount))
	require.Equal(t, nodeapi.ReasonsAll, locks[0].Reasons)
}

func TestEncodeLocksRoundTrip(t *testing.T) {
	locks := []nodeapi.StakeLock{
		{ID: nodeapi.StakingLockID, Amount: big.NewInt(5), Reasons: nodeapi.ReasonsFee},
		{ID: nodeapi.LockID{'o', 'r', 'm', 'l', 'v', 'e', 's', 't'}, Amount: big.NewInt(0), Reasons: nodeapi.ReasonsMisc},
	}
	raw, err := encodeLocks(locks)
	require.NoError(t, err)
	decoded, err := decodeLocks(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	for i := range locks {
		require.Equal(t, locks[i].ID, decoded[i].ID)
		require.Equal(t, 0, locks[i].Amount.Cmp(decoded[i].Amount))
		require.Equal(t, locks[i].Reasons, decoded[i].Reasons)
	}

	empty, err := encodeLocks(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0}, empty)
}

func TestEncodeLocksInvalid(t *testing.T) {
	_, err := encodeLocks([]nodeapi.StakeLock{{ID: nodeapi.StakingLockID, Amount: big.NewInt(-1)}})
	require.Error(t, err)

	huge := new(big.Int).Lsh(big.NewInt(1), 128)
	_, err = encodeLocks([]nodeapi.StakeLock{{ID: nodeapi.StakingLockID, Amount: huge}})
	require.Error(t, err)
}

func TestDecodeLocksAbsent(t *testing.T) {
	locks, err := decodeLocks(nil)
	require.NoError(t, err)
	require.Empty(t, locks)
}

func TestDecodeLedger(t *testing.T) {
	stash := bytes.Repeat([]byte{0x01}, common.AddressLen)
	var raw []byte
	raw = append(raw, stash...)
	raw = append(raw,
		0x3c,       // total: compact(15)
		0x28,       // active: compact(10)
		0x04,       // unlocking: 1 chunk
		0x14, 0x1c, // value: compact(5), era: compact(7)
		0x00, // claimed_rewards: empty, ignored
	)

	ledger, err := decodeLedger(raw)
	require.NoError(t, err)
	require.Equal(t, common.Address(stash), ledger.Stash)
	require.Equal(t, int64(15), ledger.Total.Int64())
	require.Equal(t, int64(10), ledger.Active.Int64())
	require.Len(t, ledger.Unlocking, 1)
	require.Equal(t, int64(5), ledger.Unlocking[0].Value.Int64())
	require.Equal(t, uint32(7), ledger.Unlocking[0].Era)
	require.Equal(t, int64(15), ledger.BondedAndUnlocking().Int64())
}

func TestDecodeLedgerTruncated(t *testing.T) {
	_, err := decodeLedger(bytes.Repeat([]byte{0x01}, 10))
	require.Error(t, err)
}

func TestMapPrefix(t *testing.T) {
	require.Equal(t,
		mustHex(t, "5f3e4907f716ac89b6347d15ececedca422adb579f1dbf4f3886c5cfa3bb8cc4"),
		mapPrefix("Staking", "Ledger"),
	)
}

func TestControllerFromKey(t *testing.T) {
	prefix := mapPrefix("Staking", "Ledger")
	controller := common.Address{0xaa, 0xbb}
	key := append(append(append([]byte{}, prefix...), make([]byte, 16)...), controller[:]...)

	got, err := controllerFromKey(prefix, key)
	require.NoError(t, err)
	require.Equal(t, controller, got)

	_, err = controllerFromKey(prefix, key[:len(key)-1])
	require.Error(t, err)
}

func TestStorageItems(t *testing.T) {
	raw, err := codec.Encode(storageItems([]nodeapi.StorageEntry{
		{Key: []byte{0x26, 0xaa}, Value: []byte{0x00}},
	}))
	require.NoError(t, err)
	// vec len 1, key len 2, key, value len 1, value.
	require.Equal(t, []byte{0x04, 0x08, 0x26, 0xaa, 0x04, 0x00}, raw)
}

func TestSS58Address(t *testing.T) {
	alice := mustHex(t, "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")

	address, err := ss58Address(alice, 42)
	require.NoError(t, err)
	require.Equal(t, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", address)

	// Prefixes above 63 use the two-byte format the keyring cannot produce.
	address, err = ss58Address(alice, 1000)
	require.NoError(t, err)
	decoded, prefix, err := common.DecodeSS58(address)
	require.NoError(t, err)
	require.Equal(t, uint16(1000), prefix)
	require.Equal(t, alice, decoded[:])

	_, err = ss58Address(alice[:31], 42)
	require.Error(t, err)
}

func TestVerifyStorage(t *testing.T) {
	entries := []nodeapi.StorageEntry{
		{Key: []byte{1}, Value: []byte{0xa}},
		{Key: []byte{2}, Value: []byte{0xb}},
	}
	storage := map[string][]byte{"\x01": {0xa}, "\x02": {0xb}}
	read := func(key []byte) ([]byte, error) {
		return storage[string(key)], nil
	}
	require.NoError(t, verifyStorage(entries, read))

	storage["\x02"] = []byte{0xc}
	err := verifyStorage(entries, read)
	require.ErrorIs(t, err, nodeapi.ErrPatchNotApplied)
	require.Contains(t, err.Error(), "1 of 2 entries differ, first 0x02")

	delete(storage, "\x01")
	require.ErrorIs(t, verifyStorage(entries, read), nodeapi.ErrPatchNotApplied)

	boom := errors.New("boom")
	err = verifyStorage(entries, func([]byte) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, nodeapi.ErrPatchNotApplied)
}
