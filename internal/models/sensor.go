package models

import (
	"math"
	"time"
)

// SensorSample 加速度计采样（单位 g，含重力）
type SensorSample struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

// Magnitude 瞬时加速度模长
func (s SensorSample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// FallRecord 最近一次确认的跌倒（lastFallDetection）
type FallRecord struct {
	DetectedAt time.Time   `json:"detected_at"`
	Intensity  float64     `json:"intensity"`
	Location   LocationFix `json:"location"`
}
