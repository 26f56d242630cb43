package onboarding

import "github.com/go-faster/errors"

// State — этап подключения аккаунта пользователя.
type State int

const (
	StateUnregistered State = iota
	StateCredentialsStored
	StateCodeRequested
	StateTwoFactorRequired
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateCredentialsStored:
		return "credentials stored"
	case StateCodeRequested:
		return "code requested"
	case StateTwoFactorRequired:
		return "two-factor required"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Outcome — успешный результат шага входа.
type Outcome int

const (
	// OutcomeAuthenticated — сессия сохранена, вход завершён.
	OutcomeAuthenticated Outcome = iota + 1
	// OutcomeTwoFactorRequired — код принят, ждём пароль 2FA.
	OutcomeTwoFactorRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeTwoFactorRequired:
		return "two-factor required"
	default:
		return "unknown"
	}
}

// Ошибки предусловий и шагов входа. Обработчики бота сопоставляют их через errors.Is.
var (
	ErrNotRegistered    = errors.New("credentials are not registered")
	ErrNoPendingLogin   = errors.New("no pending login")
	ErrNotAuthenticated = errors.New("account is not authenticated")
	ErrTooManyGroups    = errors.New("too many groups requested")
	ErrInvalidPhone     = errors.New("phone number is empty")
	ErrAwaitingPassword = errors.New("login is waiting for the two-factor password")
	ErrAwaitingCode     = errors.New("login is waiting for the confirmation code")
)
