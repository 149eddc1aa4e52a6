package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// PortOpener 打开串口（测试中替换为内存实现）
type PortOpener func(path string, mode *serial.Mode) (io.ReadCloser, error)

// PortLister 列出可用串口
type PortLister func() ([]string, error)

// SerialConfig 串口 IMU 配置
type SerialConfig struct {
	Path     string
	BaudRate int
}

// SerialSource 通过串口读取外接 IMU 的 "x,y,z" 行数据
type SerialSource struct {
	config SerialConfig
	open   PortOpener
	list   PortLister
	clock  func() time.Time
	logger *zap.Logger
}

// NewSerialSource 创建串口数据源
func NewSerialSource(cfg SerialConfig, logger *zap.Logger) *SerialSource {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	return &SerialSource{
		config: cfg,
		open: func(path string, mode *serial.Mode) (io.ReadCloser, error) {
			return serial.Open(path, mode)
		},
		list:   serial.GetPortsList,
		clock:  time.Now,
		logger: logger,
	}
}

func (s *SerialSource) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: s.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Available 配置的串口是否存在
func (s *SerialSource) Available(ctx context.Context) bool {
	if s.config.Path == "" {
		return false
	}
	ports, err := s.list()
	if err != nil {
		s.logger.Warn("Failed to list serial ports", zap.Error(err))
		return false
	}
	for _, p := range ports {
		if p == s.config.Path {
			return true
		}
	}
	return false
}

// RequestPermission 尝试打开串口，权限不足时返回 false
func (s *SerialSource) RequestPermission(ctx context.Context) (bool, error) {
	port, err := s.open(s.config.Path, s.mode())
	if err != nil {
		var portErr *serial.PortError
		if errors.Is(err, fs.ErrPermission) || (errors.As(err, &portErr) && portErr.Code() == serial.PermissionDenied) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open serial port %s: %w", s.config.Path, err)
	}
	return true, port.Close()
}

// Subscribe 打开串口并在后台逐行解析
func (s *SerialSource) Subscribe(ctx context.Context, interval time.Duration) (<-chan models.SensorSample, error) {
	port, err := s.open(s.config.Path, s.mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.config.Path, err)
	}

	out := make(chan models.SensorSample)
	var closeOnce sync.Once
	closePort := func() {
		closeOnce.Do(func() { port.Close() })
	}

	// 阻塞的 Read 只能通过关闭串口打断
	go func() {
		<-ctx.Done()
		closePort()
	}()

	go func() {
		defer close(out)
		defer closePort()

		// IMU 输出速率可能高于目标采样率，按 interval 的一半降采样
		minGap := interval / 2
		var last time.Time

		scan := bufio.NewScanner(port)
		for scan.Scan() {
			line := scan.Text()
			if strings.HasPrefix(line, "#") {
				continue
			}
			x, y, z, err := ParseSampleLine(line)
			if err != nil {
				s.logger.Debug("Skipping malformed IMU line", zap.String("line", line), zap.Error(err))
				continue
			}
			now := s.clock()
			if !last.IsZero() && now.Sub(last) < minGap {
				continue
			}
			last = now

			select {
			case out <- models.SensorSample{X: x, Y: y, Z: z, Timestamp: now}:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil && ctx.Err() == nil {
			s.logger.Error("Serial IMU read failed", zap.String("path", s.config.Path), zap.Error(err))
		}
	}()

	return out, nil
}
