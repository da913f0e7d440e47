// utils/geo.go
package utils

import "math"

// kmPerDegreeLat is the approximate surface distance of one degree of
// latitude. Good enough for coarse proximity filters.
const kmPerDegreeLat = 111.32

// BoundingBox is a lat/lng rectangle around a center point.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoundsAround returns the box extending radiusKm from the center in every
// direction. Longitude degrees shrink with latitude, so the delta is scaled
// by cos(lat). Not meaningful at the poles.
func BoundsAround(lat, lng, radiusKm float64) BoundingBox {
	deltaLat := radiusKm / kmPerDegreeLat
	deltaLng := radiusKm / (kmPerDegreeLat * math.Cos(lat*math.Pi/180))

	return BoundingBox{
		MinLat: lat - deltaLat,
		MaxLat: lat + deltaLat,
		MinLng: lng - deltaLng,
		MaxLng: lng + deltaLng,
	}
}
