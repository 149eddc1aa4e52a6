package models

import "sync/atomic"

// UserContext 当前会话的用户（由认证协作方在开始追踪前设置一次）
type UserContext struct {
	userID atomic.Int64
}

// SetUserID 设置用户ID
func (u *UserContext) SetUserID(id int64) {
	u.userID.Store(id)
}

// UserID 返回用户ID，未设置时返回 ErrUserNotSet
func (u *UserContext) UserID() (int64, error) {
	id := u.userID.Load()
	if id <= 0 {
		return 0, ErrUserNotSet
	}
	return id, nil
}
