// Package onboarding — оркестратор подключения личного аккаунта к боту.
//
// Сценарий пользователя: /connect сохраняет api_id/api_hash, /login открывает подключение
// и запрашивает код, /code завершает вход или переводит к /2fa. Незавершённый вход держит
// живое подключение в памяти (PendingLogin): шаг 2FA обязан выполняться на том же ключе
// авторизации, что и SignIn. После успеха токен сессии уходит в хранилище, а подключение
// закрывается. Команды одного пользователя выполняются строго по очереди.
package onboarding

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-groupbot/internal/domain/account"
	"telegram-groupbot/internal/domain/credentials"
	"telegram-groupbot/internal/domain/groups"
	"telegram-groupbot/internal/infra/clock"
	"telegram-groupbot/internal/infra/logger"
)

// Ошибки шагов входа совпадают с нормализованными ошибками подключения.
var (
	ErrInvalidCode     = account.ErrInvalidCode
	ErrInvalidPassword = account.ErrInvalidPassword
)

// Значения по умолчанию для Options.
const (
	DefaultAuthTimeout = time.Minute
	DefaultPendingTTL  = 10 * time.Minute
	DefaultMaxGroups   = 50
)

// Options настраивает Service. Нулевые поля заменяются значениями по умолчанию.
type Options struct {
	AuthTimeout time.Duration
	PendingTTL  time.Duration
	MaxGroups   int
	Now         clock.Func
}

// pendingLogin — незавершённый вход.
type pendingLogin struct {
	conn      account.Conn
	phone     string
	codeHash  string
	stage     State
	createdAt time.Time
}

// Service реализует сценарии /connect, /login, /code, /2fa, /creategroups.
type Service struct {
	store  credentials.Store
	dialer account.Dialer
	opts   Options

	locksMu sync.Mutex
	locks   map[int64]*userLock

	pendMu  sync.Mutex
	pending map[int64]*pendingLogin

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New собирает оркестратор.
func New(store credentials.Store, dialer account.Dialer, opts Options) *Service {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = DefaultAuthTimeout
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = DefaultMaxGroups
	}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	return &Service{
		store:   store,
		dialer:  dialer,
		opts:    opts,
		locks:   make(map[int64]*userLock),
		pending: make(map[int64]*pendingLogin),
	}
}

// MaxGroups возвращает действующий предел /creategroups.
func (s *Service) MaxGroups() int { return s.opts.MaxGroups }

// userLock — мьютекс пользователя со счётчиком ссылок. Запись живёт в карте,
// пока её держит или ждёт хотя бы одна команда.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// acquire берёт ссылку на мьютекс пользователя, создавая запись при необходимости.
func (s *Service) acquire(userID int64) *userLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	return l
}

// release отпускает ссылку; последняя удаляет запись из карты.
func (s *Service) release(userID int64, l *userLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, userID)
	}
}

// lockUser блокирует команды пользователя до вызова возвращённой функции.
func (s *Service) lockUser(userID int64) (unlock func()) {
	l := s.acquire(userID)
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.release(userID, l)
	}
}

// tryLockUser — неблокирующий вариант lockUser.
func (s *Service) tryLockUser(userID int64) (unlock func(), ok bool) {
	l := s.acquire(userID)
	if !l.mu.TryLock() {
		s.release(userID, l)
		return nil, false
	}
	return func() {
		l.mu.Unlock()
		s.release(userID, l)
	}, true
}

// Register сохраняет учётные данные приложения. Сессия сбрасывается,
// незавершённый вход с прежними данными отменяется.
func (s *Service) Register(ctx context.Context, userID int64, appID int, appHash string) error {
	unlock := s.lockUser(userID)
	defer unlock()

	if err := s.store.Upsert(ctx, userID, appID, appHash); err != nil {
		return errors.Wrap(err, "save credentials")
	}
	s.dropPending(userID)
	logger.Info("credentials saved", zap.Int64("user_id", userID), zap.Int("app_id", appID))
	return nil
}

// RequestCode открывает новое подключение и запрашивает код подтверждения на phone.
// Прежний незавершённый вход пользователя закрывается.
func (s *Service) RequestCode(ctx context.Context, userID int64, phone string) error {
	if phone == "" {
		return ErrInvalidPhone
	}
	unlock := s.lockUser(userID)
	defer unlock()

	cred, err := s.loadCredential(ctx, userID)
	if err != nil {
		return err
	}
	s.dropPending(userID)

	authCtx, cancel := context.WithTimeout(ctx, s.opts.AuthTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(authCtx, account.Credentials{AppID: cred.AppID, AppHash: cred.AppHash})
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	codeHash, err := conn.SendCode(authCtx, phone)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "send code")
	}

	s.pendMu.Lock()
	s.pending[userID] = &pendingLogin{
		conn:      conn,
		phone:     phone,
		codeHash:  codeHash,
		stage:     StateCodeRequested,
		createdAt: s.opts.Now(),
	}
	s.pendMu.Unlock()

	logger.Info("login code requested", zap.Int64("user_id", userID))
	return nil
}

// SubmitCode проверяет код. Неверный код оставляет вход ожидающим для повторной попытки;
// прочие ошибки отменяют вход.
func (s *Service) SubmitCode(ctx context.Context, userID int64, code string) (Outcome, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	p, err := s.getPending(userID, StateCodeRequested)
	if err != nil {
		return 0, err
	}

	authCtx, cancel := context.WithTimeout(ctx, s.opts.AuthTimeout)
	defer cancel()

	err = p.conn.SignIn(authCtx, p.phone, code, p.codeHash)
	switch {
	case err == nil:
		if err := s.complete(ctx, userID, p); err != nil {
			return 0, err
		}
		return OutcomeAuthenticated, nil
	case errors.Is(err, account.ErrPasswordNeeded):
		s.pendMu.Lock()
		p.stage = StateTwoFactorRequired
		p.createdAt = s.opts.Now()
		s.pendMu.Unlock()
		logger.Info("two-factor password required", zap.Int64("user_id", userID))
		return OutcomeTwoFactorRequired, nil
	case errors.Is(err, account.ErrInvalidCode):
		logger.Debug("invalid login code", zap.Int64("user_id", userID))
		return 0, ErrInvalidCode
	default:
		s.dropPending(userID)
		return 0, errors.Wrap(err, "sign in")
	}
}

// SubmitPassword завершает вход паролем 2FA на удерживаемом подключении.
func (s *Service) SubmitPassword(ctx context.Context, userID int64, password string) error {
	unlock := s.lockUser(userID)
	defer unlock()

	p, err := s.getPending(userID, StateTwoFactorRequired)
	if err != nil {
		return err
	}

	authCtx, cancel := context.WithTimeout(ctx, s.opts.AuthTimeout)
	defer cancel()

	err = p.conn.Password(authCtx, password)
	switch {
	case err == nil:
		return s.complete(ctx, userID, p)
	case errors.Is(err, account.ErrInvalidPassword):
		logger.Debug("invalid two-factor password", zap.Int64("user_id", userID))
		return ErrInvalidPassword
	default:
		s.dropPending(userID)
		return errors.Wrap(err, "check password")
	}
}

// complete сохраняет токен сессии и закрывает подключение независимо от результата.
func (s *Service) complete(ctx context.Context, userID int64, p *pendingLogin) error {
	defer s.dropPending(userID)

	token, err := p.conn.ExportSession()
	if err != nil {
		return errors.Wrap(err, "export session")
	}
	if err := s.store.SetSession(ctx, userID, token); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return ErrNotRegistered
		}
		return errors.Wrap(err, "save session")
	}
	logger.Info("account authenticated", zap.Int64("user_id", userID))
	return nil
}

// CreateGroups создаёт n групп от имени авторизованного аккаунта. Ошибка возвращается,
// только если создание не началось; сбой посреди цикла описан в Report.Err.
func (s *Service) CreateGroups(ctx context.Context, userID int64, n int) (groups.Report, error) {
	if n > s.opts.MaxGroups {
		return groups.Report{}, errors.Wrapf(ErrTooManyGroups, "at most %d", s.opts.MaxGroups)
	}
	unlock := s.lockUser(userID)
	defer unlock()

	cred, err := s.loadCredential(ctx, userID)
	if err != nil {
		return groups.Report{}, err
	}
	if !cred.HasSession() {
		return groups.Report{}, ErrNotAuthenticated
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.AuthTimeout)
	conn, err := s.dialer.Dial(dialCtx, account.Credentials{
		AppID:   cred.AppID,
		AppHash: cred.AppHash,
		Session: cred.Session,
	})
	cancel()
	if err != nil {
		return groups.Report{}, errors.Wrap(err, "connect")
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close account connection", zap.Int64("user_id", userID), zap.Error(err))
		}
	}()

	logger.Info("creating groups", zap.Int64("user_id", userID), zap.Int("count", n))
	rep := groups.Create(ctx, conn, n)
	logger.Info("groups created",
		zap.Int64("user_id", userID),
		zap.Int("created", len(rep.Links)),
		zap.Int("failed", rep.Failed()))
	return rep, nil
}

// State сообщает текущий этап пользователя. Не ждёт выполняющихся команд.
func (s *Service) State(ctx context.Context, userID int64) (State, error) {
	s.pendMu.Lock()
	p, ok := s.pending[userID]
	var stage State
	if ok {
		stage = p.stage
	}
	s.pendMu.Unlock()
	if ok {
		return stage, nil
	}

	cred, err := s.store.Get(ctx, userID)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		return StateUnregistered, nil
	case err != nil:
		return StateUnregistered, errors.Wrap(err, "load credentials")
	case cred.HasSession():
		return StateAuthenticated, nil
	default:
		return StateCredentialsStored, nil
	}
}

// Cancel отменяет незавершённый вход. Возвращает false, если отменять нечего.
func (s *Service) Cancel(userID int64) bool {
	unlock := s.lockUser(userID)
	defer unlock()
	return s.dropPending(userID)
}

func (s *Service) loadCredential(ctx context.Context, userID int64) (credentials.UserCredential, error) {
	cred, err := s.store.Get(ctx, userID)
	if errors.Is(err, credentials.ErrNotFound) {
		return cred, ErrNotRegistered
	}
	if err != nil {
		return cred, errors.Wrap(err, "load credentials")
	}
	return cred, nil
}

// getPending возвращает вход пользователя, если он находится на этапе stage.
// Вход на другом этапе даёт ошибку, называющую ожидаемый шаг.
func (s *Service) getPending(userID int64, stage State) (*pendingLogin, error) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	p, ok := s.pending[userID]
	switch {
	case !ok:
		return nil, ErrNoPendingLogin
	case p.stage == stage:
		return p, nil
	case p.stage == StateTwoFactorRequired:
		return nil, ErrAwaitingPassword
	default:
		return nil, ErrAwaitingCode
	}
}

// dropPending убирает вход из реестра и закрывает его подключение.
func (s *Service) dropPending(userID int64) bool {
	s.pendMu.Lock()
	p, ok := s.pending[userID]
	delete(s.pending, userID)
	s.pendMu.Unlock()
	if !ok {
		return false
	}
	if err := p.conn.Close(); err != nil {
		logger.Debug("close pending connection", zap.Int64("user_id", userID), zap.Error(err))
	}
	return true
}

// Pending возвращает число незавершённых входов.
func (s *Service) Pending() int {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	return len(s.pending)
}
