// Package geo содержит геодезические вычисления на сфере.
package geo

import "math"

// EarthRadiusKm средний радиус Земли
const EarthRadiusKm = 6371.0

// HaversineKm возвращает расстояние по большому кругу в километрах.
// Функция симметрична и для совпадающих точек возвращает 0.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// погрешность округления может дать a чуть больше 1
	a = math.Min(1, a)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
