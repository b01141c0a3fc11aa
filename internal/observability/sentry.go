package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// ReportDegradation : хранилище отказало и компонент перешел в fail-open.
// Без инициализированного Sentry вызов ничего не делает.
func ReportDegradation(component string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(sentry.LevelWarning)
		sentry.CaptureException(err)
	})
}
