package observability

import (
	"log"
	"net/http"
	"runtime/debug"
	"tariff-auth/internal/util"

	"github.com/getsentry/sentry-go"
)

func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					scope.SetTag("path", r.URL.Path)
					sentry.CaptureMessage("panic in request")
				})

				log.Printf("[Recover] паника при обработке %s %s: %v", r.Method, r.URL.Path, rec)
				util.HandleError(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
