package remediate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/apd"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
	"github.com/galacticcouncil/gen3-unbond-fix/log"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi"
	"github.com/galacticcouncil/gen3-unbond-fix/nodeapi/nodeapitest"
	"github.com/galacticcouncil/gen3-unbond-fix/remediation"
)

var account = common.Address{0xa}

// setup returns a chain where `account` has a 1000 token staking lock, 10 of
// which are gen2 leftovers.
func setup(t *testing.T) (*nodeapitest.MemoryApi, []remediation.Record, options) {
	api := nodeapitest.NewMemoryApi()
	api.SetLocks(account, nodeapitest.StakingLock(nodeapitest.Tokens(1000)))
	api.SetLedger(account, &nodeapi.StakingLedger{
		Stash:  account,
		Total:  nodeapitest.Tokens(990),
		Active: nodeapitest.Tokens(990),
	})
	records := []remediation.Record{{Account: account, PriorExcess: apd.New(10, 0)}}
	opts := options{
		OutputFile:  filepath.Join(t.TempDir(), "updates.json"),
		SS58Prefix:  63,
		Concurrency: 2,
	}
	return api, records, opts
}

func readUpdates(t *testing.T, path string) map[string]string {
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var kv map[string]string
	require.NoError(t, json.Unmarshal(raw, &kv))
	return kv
}

func stakingAmount(t *testing.T, api *nodeapitest.MemoryApi) string {
	locks, err := api.Locks(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	return locks[0].Amount.String()
}

func TestRemediateDryRun(t *testing.T) {
	api, records, opts := setup(t)

	updates, err := remediate(context.Background(), api, records, opts, log.NewDefaultLogger("test"))
	require.NoError(t, err)
	require.Len(t, updates, 1)

	require.Equal(t, 0, api.Calls("SubmitStoragePatch"))
	require.Equal(t, nodeapitest.Tokens(1000).String(), stakingAmount(t, api))

	kv := readUpdates(t, opts.OutputFile)
	require.Equal(t, hexutil.Encode(updates[0].Value), kv[hexutil.Encode(updates[0].Key)])
}

func TestRemediateSend(t *testing.T) {
	api, records, opts := setup(t)
	opts.Send = true

	_, err := remediate(context.Background(), api, records, opts, log.NewDefaultLogger("test"))
	require.NoError(t, err)

	require.Len(t, api.Submitted(), 1)
	require.Equal(t, nodeapitest.Tokens(990).String(), stakingAmount(t, api))
	require.Len(t, readUpdates(t, opts.OutputFile), 1)
}

func TestRemediateFailedSend(t *testing.T) {
	api, records, opts := setup(t)
	opts.Send = true
	boom := errors.New("connection reset")
	api.FailSubmit(boom)

	_, err := remediate(context.Background(), api, records, opts, log.NewDefaultLogger("test"))
	require.ErrorIs(t, err, boom)

	// The updates are written out before submitting.
	require.Len(t, readUpdates(t, opts.OutputFile), 1)
	require.Equal(t, nodeapitest.Tokens(1000).String(), stakingAmount(t, api))
}

func TestRemediatePatchNotApplied(t *testing.T) {
	api, records, opts := setup(t)
	opts.Send = true
	api.DropPatches()

	_, err := remediate(context.Background(), api, records, opts, log.NewDefaultLogger("test"))
	require.ErrorIs(t, err, nodeapi.ErrPatchNotApplied)
	require.Len(t, api.Submitted(), 1)
	require.Equal(t, nodeapitest.Tokens(1000).String(), stakingAmount(t, api))
}

func TestRemediateInvalidStateWritesNothing(t *testing.T) {
	api, records, opts := setup(t)
	opts.Send = true
	api.SetLedger(account, &nodeapi.StakingLedger{
		Stash:  account,
		Total:  nodeapitest.Tokens(995),
		Active: nodeapitest.Tokens(995),
	})

	_, err := remediate(context.Background(), api, records, opts, log.NewDefaultLogger("test"))
	require.ErrorIs(t, err, remediation.ErrInvariantViolation)
	require.NoFileExists(t, opts.OutputFile)
	require.Equal(t, 0, api.Calls("SubmitStoragePatch"))
}

func TestRemediateWithoutNodeInfo(t *testing.T) {
	api, records, opts := setup(t)
	api.FailNodeInfo(errors.New("method not found"))

	updates, err := remediate(context.Background(), api, records, opts, log.NewDefaultLogger("test"))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, 1, api.Calls("NodeInfo"))
}
