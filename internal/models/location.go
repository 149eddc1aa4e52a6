package models

import (
	"fmt"
	"math"
	"time"
)

// LocationFix 定位结果（lastLocationData）
type LocationFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Location 事件中上报的位置（accuracy 缺省时序列化为 null）
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

// UnknownLocation 无可用定位时的占位 {0,0,0}
func UnknownLocation() Location {
	zero := 0.0
	return Location{Accuracy: &zero}
}

// ToLocation 转换为事件位置
func (f LocationFix) ToLocation() Location {
	loc := Location{Latitude: f.Latitude, Longitude: f.Longitude}
	if f.Accuracy != nil {
		acc := *f.Accuracy
		loc.Accuracy = &acc
	}
	return loc
}

// Validate 检查经纬度范围（闭区间）
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidPayload, l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidPayload, l.Longitude)
	}
	if l.Accuracy != nil && (math.IsNaN(*l.Accuracy) || *l.Accuracy < 0) {
		return fmt.Errorf("%w: accuracy %v must be non-negative", ErrInvalidPayload, *l.Accuracy)
	}
	return nil
}
