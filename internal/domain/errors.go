package domain

import "errors"

// Domain errors
var (
	ErrUserNotFound               = errors.New("user not found")
	ErrAchievementAlreadyUnlocked = errors.New("achievement already unlocked")
	ErrInvalidAction              = errors.New("invalid action type")
	ErrInvalidWindow              = errors.New("invalid leaderboard window")
	ErrSnapshotNotFound           = errors.New("leaderboard snapshot not found")
	ErrNotRanked                  = errors.New("user not present in leaderboard")
	ErrUnknownJob                 = errors.New("unknown job")
	ErrInvalidRequest             = errors.New("invalid request")
	ErrInternalError              = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrNotRanked) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrUnknownJob)
}

// IsConflict reports a uniqueness race lost to another writer
func IsConflict(err error) bool {
	return errors.Is(err, ErrAchievementAlreadyUnlocked)
}

// IsInvalid reports a caller input error
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidAction)
}
