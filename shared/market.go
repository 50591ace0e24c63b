package shared

import "fmt"

// DefaultMarkets are the currency pairs tracked when none are configured.
var DefaultMarkets = []string{"EURUSD", "EURJPY", "USDJPY", "AUDCAD"}

// activeIDs maps currency pairs to the provider's active instrument ids.
// These are assigned by the provider and must track its own table.
var activeIDs = map[string]int{
	"EURUSD": 1,
	"USDJPY": 2,
	"EURJPY": 3,
	"AUDCAD": 180,
}

// ActiveID returns the provider instrument id of the provided market.
func ActiveID(market string) (int, error) {
	id, ok := activeIDs[market]
	if !ok {
		return 0, fmt.Errorf("no provider id for market %s", market)
	}

	return id, nil
}
