// Package botapi — фронтенд бота на Telegram Bot API: разбор команд, вызов сценариев
// onboarding и формирование одного текстового ответа на каждую команду.
package botapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"telegram-groupbot/internal/domain/account"
	"telegram-groupbot/internal/domain/groups"
	"telegram-groupbot/internal/domain/onboarding"
	"telegram-groupbot/internal/infra/logger"
)

// Onboarding — сценарии, которые вызывает бот.
type Onboarding interface {
	Register(ctx context.Context, userID int64, appID int, appHash string) error
	RequestCode(ctx context.Context, userID int64, phone string) error
	SubmitCode(ctx context.Context, userID int64, code string) (onboarding.Outcome, error)
	SubmitPassword(ctx context.Context, userID int64, password string) error
	CreateGroups(ctx context.Context, userID int64, n int) (groups.Report, error)
	State(ctx context.Context, userID int64) (onboarding.State, error)
	Cancel(userID int64) bool
	MaxGroups() int
}

// Тексты ответов.
const (
	helpText = "Welcome!\n\n" +
		"To connect your own Telegram account (not the bot account):\n" +
		"1) Get API ID & API Hash from https://my.telegram.org\n" +
		"2) Send: /connect <api_id> <api_hash>\n" +
		"3) Then: /login <your_phone_number>\n" +
		"4) When you receive the code: /code <12345>\n" +
		"5) If 2FA is enabled: /2fa <your_password>\n\n" +
		"After that, create groups: /creategroups <number>\n" +
		"Groups are private, history visible, and will receive 6 auto messages.\n\n" +
		"/status shows your progress, /cancel aborts a login in progress."

	usageConnect      = "Usage: /connect <api_id> <api_hash>"
	usageLogin        = "Usage: /login <your_phone_number>"
	usageCode         = "Usage: /code <12345>"
	usagePassword     = "Usage: /2fa <password>"
	usageCreateGroups = "Usage: /creategroups <number>"

	replySaved          = "API credentials saved. Now send: /login <your_phone_number>"
	replyCodeSent       = "Code sent. Now send: /code <12345>"
	replyConnected      = "Connected! Use /creategroups <n>"
	replyTwoFactor      = "2FA required. Send: /2fa <password>"
	replyTwoFactorOK    = "2FA success! Now use /creategroups <n>"
	replyRegisterFirst  = "Register first: /connect <api_id> <api_hash>"
	replyLoginFirst     = "Start with /login <your_phone_number> first."
	replyAwaitingPass   = "Waiting for your 2FA password. Send: /2fa <password>"
	replyAwaitingCode   = "Waiting for the login code. Send: /code <12345>"
	replyNotLoggedIn    = "Not logged in. Use /login <your_phone_number> first."
	replyInvalidCode    = "Invalid code. Try again with /code <12345>."
	replyCodeExpired    = "The code has expired. Request a new one with /login <your_phone_number>."
	replyInvalidPass    = "Invalid password. Try again with /2fa <password>."
	replyNotSignedUp    = "This phone number is not registered in Telegram."
	replyNetwork        = "Telegram is unreachable right now, please try again later."
	replyCanceled       = "Login canceled."
	replyNothingToAbort = "No login in progress."
	replyUnknown        = "Unknown command. Send /help for the list of commands."
	replyInternal       = "Something went wrong, please try again later."
)

// Handler сопоставляет команду обработчику и превращает результат в текст ответа.
type Handler struct {
	svc Onboarding
}

// NewHandler создаёт обработчик команд.
func NewHandler(svc Onboarding) *Handler {
	return &Handler{svc: svc}
}

// Handle выполняет command (без "/") с аргументами args от имени userID.
func (h *Handler) Handle(ctx context.Context, userID int64, command, args string) string {
	fields := strings.Fields(args)

	switch strings.ToLower(command) {
	case "start", "help":
		return helpText
	case "connect":
		return h.connect(ctx, userID, fields)
	case "login":
		return h.login(ctx, userID, fields)
	case "code":
		return h.code(ctx, userID, fields)
	case "2fa":
		return h.password(ctx, userID, fields)
	case "creategroups":
		return h.createGroups(ctx, userID, fields)
	case "status":
		return h.status(ctx, userID)
	case "cancel":
		if h.svc.Cancel(userID) {
			return replyCanceled
		}
		return replyNothingToAbort
	default:
		return replyUnknown
	}
}

// Sensitive сообщает, несёт ли команда секрет, который нельзя писать в лог.
func Sensitive(command string) bool {
	switch strings.ToLower(command) {
	case "connect", "code", "2fa":
		return true
	default:
		return false
	}
}

func (h *Handler) connect(ctx context.Context, userID int64, args []string) string {
	if len(args) < 2 {
		return usageConnect
	}
	appID, err := strconv.Atoi(args[0])
	if err != nil || appID <= 0 {
		return usageConnect
	}
	if err := h.svc.Register(ctx, userID, appID, args[1]); err != nil {
		return h.failure(userID, "connect", err)
	}
	return replySaved
}

func (h *Handler) login(ctx context.Context, userID int64, args []string) string {
	if len(args) < 1 {
		return usageLogin
	}
	if err := h.svc.RequestCode(ctx, userID, args[0]); err != nil {
		return h.failure(userID, "login", err)
	}
	return replyCodeSent
}

func (h *Handler) code(ctx context.Context, userID int64, args []string) string {
	if len(args) < 1 {
		return usageCode
	}
	outcome, err := h.svc.SubmitCode(ctx, userID, args[0])
	if err != nil {
		return h.failure(userID, "code", err)
	}
	if outcome == onboarding.OutcomeTwoFactorRequired {
		return replyTwoFactor
	}
	return replyConnected
}

func (h *Handler) password(ctx context.Context, userID int64, args []string) string {
	if len(args) < 1 {
		return usagePassword
	}
	// Пароль может содержать пробелы.
	if err := h.svc.SubmitPassword(ctx, userID, strings.Join(args, " ")); err != nil {
		return h.failure(userID, "2fa", err)
	}
	return replyTwoFactorOK
}

func (h *Handler) createGroups(ctx context.Context, userID int64, args []string) string {
	if len(args) < 1 {
		return usageCreateGroups
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "Please provide a valid number, e.g. /creategroups 3"
	}

	rep, err := h.svc.CreateGroups(ctx, userID, n)
	if err != nil {
		if errors.Is(err, onboarding.ErrTooManyGroups) {
			return fmt.Sprintf("You can create at most %d groups at once.", h.svc.MaxGroups())
		}
		return h.failure(userID, "creategroups", err)
	}
	return formatReport(rep)
}

func (h *Handler) status(ctx context.Context, userID int64) string {
	st, err := h.svc.State(ctx, userID)
	if err != nil {
		return h.failure(userID, "status", err)
	}
	switch st {
	case onboarding.StateUnregistered:
		return "Status: not registered. " + replyRegisterFirst
	case onboarding.StateCredentialsStored:
		return "Status: credentials saved, not logged in. Send: /login <your_phone_number>"
	case onboarding.StateCodeRequested:
		return "Status: waiting for the code. Send: /code <12345>"
	case onboarding.StateTwoFactorRequired:
		return "Status: waiting for the 2FA password. Send: /2fa <password>"
	case onboarding.StateAuthenticated:
		return "Status: connected. Use /creategroups <n>"
	default:
		return "Status: " + st.String()
	}
}

// formatReport перечисляет ссылки по одной на строку; при сбое добавляет причину и
// число несозданных групп.
func formatReport(rep groups.Report) string {
	var b strings.Builder
	if len(rep.Links) > 0 {
		b.WriteString("Created groups:\n")
		b.WriteString(strings.Join(rep.Links, "\n"))
	}
	if rep.Err != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Failed to create %d of %d groups: %v", rep.Failed(), rep.Requested, rep.Err)
	}
	return b.String()
}

// failure переводит ошибку сценария в ответ пользователю. Непредвиденные ошибки логируются.
func (h *Handler) failure(userID int64, command string, err error) string {
	switch {
	case errors.Is(err, onboarding.ErrNotRegistered):
		return replyRegisterFirst
	case errors.Is(err, onboarding.ErrNoPendingLogin):
		return replyLoginFirst
	case errors.Is(err, onboarding.ErrAwaitingPassword):
		return replyAwaitingPass
	case errors.Is(err, onboarding.ErrAwaitingCode):
		return replyAwaitingCode
	case errors.Is(err, onboarding.ErrNotAuthenticated):
		return replyNotLoggedIn
	case errors.Is(err, onboarding.ErrInvalidCode):
		return replyInvalidCode
	case errors.Is(err, onboarding.ErrInvalidPassword):
		return replyInvalidPass
	case errors.Is(err, onboarding.ErrInvalidPhone):
		return usageLogin
	case errors.Is(err, account.ErrCodeExpired):
		return replyCodeExpired
	case errors.Is(err, account.ErrSignUpRequired):
		return replyNotSignedUp
	case errors.Is(err, account.ErrNetwork):
		logger.Warn("telegram unreachable", zap.Int64("user_id", userID), zap.String("command", command), zap.Error(err))
		return replyNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("command interrupted", zap.Int64("user_id", userID), zap.String("command", command), zap.Error(err))
		return replyInternal
	default:
		logger.Error("command failed", zap.Int64("user_id", userID), zap.String("command", command), zap.Error(err))
		return "Error: " + err.Error()
	}
}
