package detector

import "time"

// State 跌倒检测状态
type State int

const (
	StateIdle State = iota
	StateCandidateRising
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCandidateRising:
		return "candidate_rising"
	case StateCooldown:
		return "cooldown"
	}
	return "unknown"
}

// Thresholds 跌倒判定参数
type Thresholds struct {
	FallThreshold   float64       // 窗口模长阈值（g），严格大于才算超阈
	MinFallDuration time.Duration // 持续超阈多久确认为跌倒
	Cooldown        time.Duration // 确认后抑制重复触发的时长
}

// FallStateMachine 跌倒检测状态机
//
//	Idle --(mag > T)--> CandidateRising
//	CandidateRising --(mag <= T)--> Idle
//	CandidateRising --(持续 >= MinFallDuration)--> Cooldown（确认跌倒）
//	Cooldown --(距上次确认 >= Cooldown)--> Idle
type FallStateMachine struct {
	cfg            Thresholds
	state          State
	candidateStart time.Time
	lastFall       time.Time
}

// NewFallStateMachine 创建状态机
func NewFallStateMachine(cfg Thresholds) *FallStateMachine {
	return &FallStateMachine{cfg: cfg}
}

// State 当前状态
func (m *FallStateMachine) State() State {
	return m.state
}

// LastFall 最近一次确认跌倒的时间
func (m *FallStateMachine) LastFall() time.Time {
	return m.lastFall
}

// Restore 用持久化的上次跌倒时间恢复冷却期（进程重启后）
func (m *FallStateMachine) Restore(lastFall, now time.Time) {
	m.lastFall = lastFall
	if !lastFall.IsZero() && now.Sub(lastFall) < m.cfg.Cooldown {
		m.state = StateCooldown
	}
}

// Observe 输入窗口模长，返回本次是否确认跌倒
func (m *FallStateMachine) Observe(magnitude float64, at time.Time) bool {
	if m.state == StateCooldown {
		if at.Sub(m.lastFall) < m.cfg.Cooldown {
			return false
		}
		m.state = StateIdle
	}

	above := magnitude > m.cfg.FallThreshold
	switch m.state {
	case StateIdle:
		if !above {
			return false
		}
		m.state = StateCandidateRising
		m.candidateStart = at
		// MinFallDuration 为 0 时同一采样即确认
		return m.confirmIfSustained(at)

	case StateCandidateRising:
		if !above {
			m.state = StateIdle
			m.candidateStart = time.Time{}
			return false
		}
		return m.confirmIfSustained(at)
	}
	return false
}

func (m *FallStateMachine) confirmIfSustained(at time.Time) bool {
	if at.Sub(m.candidateStart) < m.cfg.MinFallDuration {
		return false
	}
	m.state = StateCooldown
	m.lastFall = at
	m.candidateStart = time.Time{}
	return true
}

// Reset 回到 Idle（保留冷却期内的上次跌倒时间）
func (m *FallStateMachine) Reset() {
	m.candidateStart = time.Time{}
	if m.state == StateCandidateRising {
		m.state = StateIdle
	}
}
