// Package version несёт сведения о сборке order-сервиса,
// подставляемые через -ldflags.
package version

import "fmt"

const service = "orderflow"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки по отдельности.
func Info() (v, c, d string) { return version, commit, date }

// String собирает строку для health-ответов и стартовых логов.
func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", service, version, commit, date)
}
