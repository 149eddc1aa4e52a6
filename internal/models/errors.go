package models

import (
	"errors"
	"fmt"
)

// 前置条件失败：对当前操作是致命的，不自动重试
var (
	ErrUserNotSet        = errors.New("user id not set: call SetUserID first")
	ErrSensorUnavailable = errors.New("accelerometer not available")
	ErrPermissionDenied  = errors.New("permission denied")
	// ErrBackgroundPermissionDenied 后台定位权限被拒绝（errors.Is 同时匹配 ErrPermissionDenied）
	ErrBackgroundPermissionDenied = fmt.Errorf("background location %w", ErrPermissionDenied)
)

// ErrInvalidPayload 事件数据非法（终止性错误，不重试也不入队）
var ErrInvalidPayload = errors.New("invalid payload")
