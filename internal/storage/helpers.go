package storage

import (
	"encoding/json"
	"math/big"

	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// parseWei parses a decimal wei string stored in the database
func parseWei(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Invalid wei amount in database", s)
	}
	return v, nil
}

// weiString renders a wei amount for storage; nil stores as zero
func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// marshalItems encodes a merchandise list as a JSON column value
func marshalItems(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal merchandise", err.Error())
	}
	return string(data), nil
}

// unmarshalItems decodes a merchandise JSON column value
func unmarshalItems(data string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal merchandise", err.Error())
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}
