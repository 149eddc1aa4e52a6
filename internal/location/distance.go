package location

import (
	"github.com/golang/geo/s2"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// earthRadiusMeters 地球平均半径
const earthRadiusMeters = 6371000.0

// DistanceMeters 两个定位点之间的大圆距离（米）
func DistanceMeters(a, b models.LocationFix) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * earthRadiusMeters
}
