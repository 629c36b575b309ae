package cloudcore

import (
	"context"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
)

// FindUser looks up a seeded login identity by username.
func (e *Engine) FindUser(ctx context.Context, username string) (*CloudUser, error) {
	var user CloudUser
	err := e.store.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New("login", "user", apperr.Unauthorized, "invalid credentials")
		}
		return nil, apperr.Wrap("login", "user", apperr.Internal, err)
	}
	return &user, nil
}
