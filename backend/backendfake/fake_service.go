// Package backendfake is a scriptable backend.Service for tests.
package backendfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-client/backend"
)

// Call names used by Calls.
const (
	CallLogin                = "login"
	CallRegister             = "register"
	CallLogout               = "logout"
	CallRefreshToken         = "refresh"
	CallCheckAuth            = "check-auth"
	CallVerifyEmail          = "verify-email"
	CallVerifySecondFactor   = "verify-2fa"
	CallRequestPasswordReset = "password-reset"
	CallConfirmPasswordReset = "password-reset-confirm"
)

// FakeService answers each call through the matching func field. A nil func
// returns a zero response and no error.
type FakeService struct {
	LoginFunc                func(ctx context.Context, email, password string) (*backend.LoginResponse, error)
	RegisterFunc             func(ctx context.Context, req backend.RegisterRequest) (map[string]any, error)
	LogoutFunc               func(ctx context.Context, refresh string) error
	RefreshTokenFunc         func(ctx context.Context, refresh string) (*backend.RefreshResponse, error)
	CheckAuthFunc            func(ctx context.Context, access string) (*backend.CheckAuthResponse, error)
	VerifyEmailFunc          func(ctx context.Context, key string) (map[string]any, error)
	VerifySecondFactorFunc   func(ctx context.Context, req backend.SecondFactorRequest) (*backend.LoginResponse, error)
	RequestPasswordResetFunc func(ctx context.Context, email string) error
	ConfirmPasswordResetFunc func(ctx context.Context, req backend.PasswordResetConfirm) error

	lock  sync.RWMutex
	calls map[string]int
}

var _ backend.Service = (*FakeService)(nil)

func NewFakeService() *FakeService {
	return &FakeService{calls: make(map[string]int)}
}

// Calls reports how many times the named call was made.
func (f *FakeService) Calls(name string) int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.calls[name]
}

// TotalCalls reports every call made so far.
func (f *FakeService) TotalCalls() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *FakeService) record(name string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *FakeService) Login(ctx context.Context, email, password string) (*backend.LoginResponse, error) {
	f.record(CallLogin)
	if f.LoginFunc == nil {
		return &backend.LoginResponse{}, nil
	}
	return f.LoginFunc(ctx, email, password)
}

func (f *FakeService) Register(ctx context.Context, req backend.RegisterRequest) (map[string]any, error) {
	f.record(CallRegister)
	if f.RegisterFunc == nil {
		return map[string]any{}, nil
	}
	return f.RegisterFunc(ctx, req)
}

func (f *FakeService) Logout(ctx context.Context, refresh string) error {
	f.record(CallLogout)
	if f.LogoutFunc == nil {
		return nil
	}
	return f.LogoutFunc(ctx, refresh)
}

func (f *FakeService) RefreshToken(ctx context.Context, refresh string) (*backend.RefreshResponse, error) {
	f.record(CallRefreshToken)
	if f.RefreshTokenFunc == nil {
		return &backend.RefreshResponse{}, nil
	}
	return f.RefreshTokenFunc(ctx, refresh)
}

func (f *FakeService) CheckAuth(ctx context.Context, access string) (*backend.CheckAuthResponse, error) {
	f.record(CallCheckAuth)
	if f.CheckAuthFunc == nil {
		return &backend.CheckAuthResponse{}, nil
	}
	return f.CheckAuthFunc(ctx, access)
}

func (f *FakeService) VerifyEmail(ctx context.Context, key string) (map[string]any, error) {
	f.record(CallVerifyEmail)
	if f.VerifyEmailFunc == nil {
		return map[string]any{}, nil
	}
	return f.VerifyEmailFunc(ctx, key)
}

func (f *FakeService) VerifySecondFactor(ctx context.Context, req backend.SecondFactorRequest) (*backend.LoginResponse, error) {
	f.record(CallVerifySecondFactor)
	if f.VerifySecondFactorFunc == nil {
		return &backend.LoginResponse{}, nil
	}
	return f.VerifySecondFactorFunc(ctx, req)
}

func (f *FakeService) RequestPasswordReset(ctx context.Context, email string) error {
	f.record(CallRequestPasswordReset)
	if f.RequestPasswordResetFunc == nil {
		return nil
	}
	return f.RequestPasswordResetFunc(ctx, email)
}

func (f *FakeService) ConfirmPasswordReset(ctx context.Context, req backend.PasswordResetConfirm) error {
	f.record(CallConfirmPasswordReset)
	if f.ConfirmPasswordResetFunc == nil {
		return nil
	}
	return f.ConfirmPasswordResetFunc(ctx, req)
}
