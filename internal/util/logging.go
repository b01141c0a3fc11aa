package util

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"
)

func LogError(message string, err error) error {
	log.Printf("%s: %v", message, err)
	return fmt.Errorf("%s: %w", message, err)
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       int    `json:"code"`
	RetryAfter int64  `json:"retry_after,omitempty"`
	ResetAt    string `json:"reset_at,omitempty"`
}

func HandleError(w http.ResponseWriter, message string, statusCode int) {
	writeError(w, errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// HandleRetryableError : 429/403 с Retry-After и временем сброса в теле
func HandleRetryableError(w http.ResponseWriter, message string, statusCode int, retryAfter time.Duration, now time.Time) {
	seconds := int64((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	writeError(w, errorResponse{
		Error:      http.StatusText(statusCode),
		Message:    message,
		Code:       statusCode,
		RetryAfter: seconds,
		ResetAt:    now.Add(time.Duration(seconds) * time.Second).UTC().Format(time.RFC3339),
	})
}

func writeError(w http.ResponseWriter, response errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.Code)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("ошибка кодирования ответа: %v", err)
	}
}
