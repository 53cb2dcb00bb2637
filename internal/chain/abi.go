package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/CaskSubscriptions.json
var subscriptionsABI []byte

// LoadABI parses the subscriptions contract ABI from path, or the embedded
// events-only ABI when path is empty.
func LoadABI(path string) (*abi.ABI, error) {
	data := subscriptionsABI
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read abi %s: %w", path, err)
		}
		data = raw
	}
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse abi %s: %w", abiName(path), err)
	}
	return &a, nil
}

func abiName(path string) string {
	if path == "" {
		return "(embedded)"
	}
	return path
}
