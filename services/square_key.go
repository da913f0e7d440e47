package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"territory-run-system/models"
)

// MakeSquareKey hashes coordinate values in the order given. The hash is for
// collision resistance, not security: two numerically identical coordinate
// lists always produce the same key, and any reordering produces a new one.
func MakeSquareKey(coords ...decimal.Decimal) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = c.String()
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// TerritorySquareKey derives the identity of a cell from its corners in
// canonical order: left-top, right-top, left-bottom, right-bottom.
func TerritorySquareKey(t *models.Territory) string {
	return MakeSquareKey(
		t.LeftTopCornerLat,
		t.LeftTopCornerLng,
		t.RightTopCornerLat,
		t.RightTopCornerLng,
		t.LeftBottomCornerLat,
		t.LeftBottomCornerLng,
		t.RightBottomCornerLat,
		t.RightBottomCornerLng,
	)
}
