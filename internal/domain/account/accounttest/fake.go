// Package accounttest — управляемые фейки account.Dialer/account.Conn для тестов доменных
// сценариев и обработчиков бота. Фейк записывает все вызовы и позволяет задать ответы.
package accounttest

import (
	"context"
	"fmt"
	"sync"

	"telegram-groupbot/internal/domain/account"
)

// SentMessage — одно отправленное сообщение.
type SentMessage struct {
	GroupID int64
	Text    string
}

// Conn — фейковое подключение.
type Conn struct {
	mu sync.Mutex

	Creds account.Credentials

	// Настраиваемые ответы.
	CodeHash      string
	SendCodeErr   error
	SignInErrs    []error // по одной ошибке на вызов SignIn; пустой список — успех
	PasswordErrs  []error
	Session       string
	ExportErr     error
	FailCreateAt  int // номер CreateGroup (с 1), который вернёт CreateErr; 0 — никогда
	CreateErr     error
	FailMessageAt int // номер SendText (сквозной, с 1), который вернёт MessageErr
	MessageErr    error

	// Записанные вызовы.
	Phones      []string
	Codes       []string
	Passwords   []string
	Groups      []account.Group
	ShownGroups []int64
	Messages    []SentMessage
	Closed      int
	authorized  bool
}

var _ account.Conn = (*Conn)(nil)

func (c *Conn) SendCode(_ context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Phones = append(c.Phones, phone)
	if c.SendCodeErr != nil {
		return "", c.SendCodeErr
	}
	if c.CodeHash == "" {
		return "hash", nil
	}
	return c.CodeHash, nil
}

func (c *Conn) SignIn(_ context.Context, _, code, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Codes = append(c.Codes, code)
	if len(c.SignInErrs) > 0 {
		err := c.SignInErrs[0]
		c.SignInErrs = c.SignInErrs[1:]
		if err != nil {
			return err
		}
	}
	c.authorized = true
	return nil
}

func (c *Conn) Password(_ context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Passwords = append(c.Passwords, password)
	if len(c.PasswordErrs) > 0 {
		err := c.PasswordErrs[0]
		c.PasswordErrs = c.PasswordErrs[1:]
		if err != nil {
			return err
		}
	}
	c.authorized = true
	return nil
}

func (c *Conn) ExportSession() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ExportErr != nil {
		return "", c.ExportErr
	}
	if c.Session != "" {
		return c.Session, nil
	}
	return "session-token", nil
}

func (c *Conn) CreateGroup(_ context.Context, title, _ string) (account.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCreateAt > 0 && len(c.Groups)+1 == c.FailCreateAt {
		return account.Group{}, c.CreateErr
	}
	g := account.Group{ID: int64(len(c.Groups) + 1), AccessHash: 100, Title: title}
	c.Groups = append(c.Groups, g)
	return g, nil
}

func (c *Conn) ShowHistory(_ context.Context, g account.Group) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ShownGroups = append(c.ShownGroups, g.ID)
	return nil
}

func (c *Conn) SendText(_ context.Context, g account.Group, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailMessageAt > 0 && len(c.Messages)+1 == c.FailMessageAt {
		return c.MessageErr
	}
	c.Messages = append(c.Messages, SentMessage{GroupID: g.ID, Text: text})
	return nil
}

func (c *Conn) ExportInvite(_ context.Context, g account.Group) (string, error) {
	return fmt.Sprintf("https://t.me/+group%d", g.ID), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed++
	return nil
}

// MessagesFor возвращает тексты, отправленные в группу id, в порядке отправки.
func (c *Conn) MessagesFor(id int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.Messages {
		if m.GroupID == id {
			out = append(out, m.Text)
		}
	}
	return out
}

// ClosedCount возвращает число вызовов Close.
func (c *Conn) ClosedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}

// Dialer выдаёт заранее подготовленные подключения по очереди.
// Если очередь пуста, создаётся новый Conn по умолчанию.
type Dialer struct {
	mu sync.Mutex

	Queue   []*Conn
	DialErr error

	Dialed []*Conn
}

var _ account.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(_ context.Context, creds account.Credentials) (account.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	var c *Conn
	if len(d.Queue) > 0 {
		c = d.Queue[0]
		d.Queue = d.Queue[1:]
	} else {
		c = &Conn{}
	}
	c.Creds = creds
	d.Dialed = append(d.Dialed, c)
	return c, nil
}

// DialCount возвращает число успешных Dial.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dialed)
}
