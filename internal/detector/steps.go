package detector

import (
	"math"
	"sync"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// 步数检测默认参数
const (
	DefaultStepThreshold   = 1.2 // g
	DefaultStepHysteresis  = 0.1
	DefaultMinStepInterval = 250 * time.Millisecond
)

// StepCounter 基于瞬时模长上升沿的计步器
type StepCounter struct {
	threshold   float64
	hysteresis  float64
	minInterval time.Duration

	mu       sync.Mutex
	above    bool
	lastStep time.Time
	count    int
}

// NewStepCounter 创建计步器（threshold <= 0 时使用默认值）
func NewStepCounter(threshold float64) *StepCounter {
	if threshold <= 0 {
		threshold = DefaultStepThreshold
	}
	return &StepCounter{
		threshold:   threshold,
		hysteresis:  DefaultStepHysteresis,
		minInterval: DefaultMinStepInterval,
	}
}

// Observe 输入采样，返回是否计为一步
func (c *StepCounter) Observe(s models.SensorSample) bool {
	mag := s.Magnitude()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.above {
		if mag < c.threshold-c.hysteresis {
			c.above = false
		}
		return false
	}
	if mag <= c.threshold {
		return false
	}
	c.above = true
	if !c.lastStep.IsZero() && s.Timestamp.Sub(c.lastStep) < c.minInterval {
		return false
	}
	c.lastStep = s.Timestamp
	c.count++
	return true
}

// Take 返回自上次 Take 以来的步数并清零
func (c *StepCounter) Take() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.count
	c.count = 0
	return n
}

// Peek 当前累计步数
func (c *StepCounter) Peek() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// MovementClassifier 判定采样是否算“有活动”
type MovementClassifier struct {
	// Threshold 瞬时模长偏离 1g 的最小幅度；<= 0 时退化为“非跌倒候选即活动”
	Threshold     float64
	FallThreshold float64
}

// IsMovement 判定单个采样
func (c MovementClassifier) IsMovement(s models.SensorSample) bool {
	mag := s.Magnitude()
	if c.Threshold <= 0 {
		return mag <= c.FallThreshold
	}
	return math.Abs(mag-1) >= c.Threshold
}
