package detector

import (
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Window 按时间裁剪的滑动窗口
//
// 保留 timestamp >= 最新采样时间 - size*interval 的采样；
// 至少累积 size 个采样后才参与判定。
type Window struct {
	span    time.Duration
	size    int
	samples []models.SensorSample

	xs, ys, zs []float64
}

// NewWindow 创建滑动窗口
func NewWindow(sampleInterval time.Duration, size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		span: time.Duration(size) * sampleInterval,
		size: size,
		xs:   make([]float64, 0, size),
		ys:   make([]float64, 0, size),
		zs:   make([]float64, 0, size),
	}
}

// Add 追加采样并裁剪过期采样
func (w *Window) Add(s models.SensorSample) {
	w.samples = append(w.samples, s)

	cutoff := s.Timestamp.Add(-w.span)
	drop := 0
	for drop < len(w.samples) && w.samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		w.samples = append(w.samples[:0], w.samples[drop:]...)
	}
}

// Len 当前采样数
func (w *Window) Len() int {
	return len(w.samples)
}

// Ready 窗口是否已填满
func (w *Window) Ready() bool {
	return len(w.samples) >= w.size
}

// Magnitude 最近 size 个采样的各轴均值向量的模长
func (w *Window) Magnitude() float64 {
	recent := w.samples
	if len(recent) > w.size {
		recent = recent[len(recent)-w.size:]
	}
	if len(recent) == 0 {
		return 0
	}

	w.xs, w.ys, w.zs = w.xs[:0], w.ys[:0], w.zs[:0]
	for _, s := range recent {
		w.xs = append(w.xs, s.X)
		w.ys = append(w.ys, s.Y)
		w.zs = append(w.zs, s.Z)
	}
	mean := []float64{
		stat.Mean(w.xs, nil),
		stat.Mean(w.ys, nil),
		stat.Mean(w.zs, nil),
	}
	return floats.Norm(mean, 2)
}

// Reset 清空窗口（停止采样时调用）
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}
