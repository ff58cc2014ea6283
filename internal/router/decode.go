package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/pricepulse/internal/model"
)

// ErrMalformedFrame is returned when a frame is not a JSON object.
var ErrMalformedFrame = errors.New("malformed frame")

// Decode parses a price frame: a JSON object mapping asset id to price.
// Prices may be numeric strings or JSON numbers. Entries that do not parse
// to a finite number are skipped and counted; they never fail the frame.
// Updates are returned in sorted asset order.
func Decode(data []byte, receivedAt time.Time) ([]model.PriceUpdate, int, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw == nil {
		return nil, 0, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	updates := make([]model.PriceUpdate, 0, len(ids))
	skipped := 0

	for _, id := range ids {
		asset := model.NormalizeAsset(id)
		price, ok := parsePrice(raw[id])
		if asset == "" || !ok {
			skipped++
			continue
		}
		updates = append(updates, model.PriceUpdate{
			AssetID:    asset,
			Price:      price,
			ReceivedAt: receivedAt,
		})
	}

	return updates, skipped, nil
}

// parsePrice accepts "123.45" or 123.45.
func parsePrice(v json.RawMessage) (float64, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0, false
	}

	var text string
	switch v[0] {
	case '"':
		if err := json.Unmarshal(v, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		text = string(v)
	default:
		return 0, false
	}

	price, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}
