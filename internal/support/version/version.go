// Package version хранит сведения о сборке. Значения переопределяются через -ldflags:
//
//	go build -ldflags "-X telegram-groupbot/internal/support/version.Version=1.2.3"
package version

var (
	// Name — имя приложения, попадает в DeviceConfig MTProto‑клиентов и в /start.
	Name = "telegram-groupbot"
	// Version — версия сборки.
	Version = "dev"
)
