package remediation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// StorageUpdatesJSON renders updates as a JSON object of hex storage key to
// hex storage value.
func StorageUpdatesJSON(updates []StorageUpdate) ([]byte, error) {
	kv := make(map[string]string, len(updates))
	for _, u := range updates {
		key := hexutil.Encode(u.Key)
		if _, ok := kv[key]; ok {
			return nil, fmt.Errorf("duplicate storage key %s (account %s)", key, u.Account)
		}
		kv[key] = hexutil.Encode(u.Value)
	}
	return json.MarshalIndent(kv, "", "  ")
}

// WriteStorageUpdates persists the storage updates to `path`.
func WriteStorageUpdates(path string, updates []StorageUpdate) error {
	out, err := StorageUpdatesJSON(updates)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}
