package remediation

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/apd"
	"github.com/stretchr/testify/require"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
)

const hydraPrefix = 63

func TestParseRecords(t *testing.T) {
	a, b := common.Address{0xa}, common.Address{0xb}
	raw := fmt.Sprintf(`[
		{"account": %q, "gen2": {"totalUnlocking": 1270.9946, "unlocking": [{"value": 1270.9946, "era": 42}]}},
		{"account": %q, "gen2": {"totalUnlocking": "100000.3827"}}
	]`, a.SS58(hydraPrefix), b.String())

	records, err := ParseRecords([]byte(raw), hydraPrefix)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, a, records[0].Account)
	require.Equal(t, "1270.9946", records[0].PriorExcess.Text('f'))
	require.Equal(t, b, records[1].Account)
	require.Zero(t, records[1].PriorExcess.Cmp(apd.New(1000003827, -4)))

	require.Equal(t, []common.Address{a, b}, Accounts(records))
}

func TestParseRecordsKeepsAllDigits(t *testing.T) {
	a := common.Address{0xa}
	// More significant digits than a float64 holds.
	raw := fmt.Sprintf(`[{"account": %q, "gen2": {"totalUnlocking": 12345678901234.123456789012}}]`, a.SS58(hydraPrefix))

	records, err := ParseRecords([]byte(raw), hydraPrefix)
	require.NoError(t, err)
	require.Equal(t, "12345678901234.123456789012", records[0].PriorExcess.Text('f'))
}

func TestParseRecordsInvalid(t *testing.T) {
	a := common.Address{0xa}
	for _, tc := range []struct {
		name string
		raw  string
	}{
		{"not a list", `{}`},
		{"wrong prefix", fmt.Sprintf(`[{"account": %q, "gen2": {"totalUnlocking": 1}}]`, a.SS58(0))},
		{"garbage account", `[{"account": "nope", "gen2": {"totalUnlocking": 1}}]`},
		{"missing amount", fmt.Sprintf(`[{"account": %q, "gen2": {}}]`, a.SS58(hydraPrefix))},
		{"negative amount", fmt.Sprintf(`[{"account": %q, "gen2": {"totalUnlocking": -1}}]`, a.SS58(hydraPrefix))},
		{"duplicate", fmt.Sprintf(`[{"account": %q, "gen2": {"totalUnlocking": 1}}, {"account": %q, "gen2": {"totalUnlocking": 2}}]`,
			a.SS58(hydraPrefix), a.String())},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRecords([]byte(tc.raw), hydraPrefix)
			require.Error(t, err)
		})
	}
}

func TestLoadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	a := common.Address{0xa}
	require.NoError(t, os.WriteFile(path,
		[]byte(fmt.Sprintf(`[{"account": %q, "gen2": {"totalUnlocking": 10.5}}]`, a.SS58(hydraPrefix))), 0o600))

	records, err := LoadRecords(path, hydraPrefix)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, a, records[0].Account)
	require.Zero(t, records[0].PriorExcess.Cmp(apd.New(105, -1)))

	_, err = LoadRecords(filepath.Join(t.TempDir(), "missing.json"), hydraPrefix)
	require.Error(t, err)
}
