package log

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends the Kratos log.Helper with request-oriented convenience
// methods used by the HTTP middleware.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates an enriched log helper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// Request logs a completed HTTP request.
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// SlowRequest logs a request that exceeded the slow threshold.
func (h *LogHelper) SlowRequest(requestID, method, url string, durationMs int64) {
	h.Warnw(
		"msg", fmt.Sprintf("[%s] Slow request detected | %s %s | %dms", requestID, method, url, durationMs),
		"type", "slow_request",
		"request_id", requestID,
		"method", method,
		"url", url,
		"duration_ms", durationMs,
	)
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 character set (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10-character random request ID, e.g. mgrn0zfqda.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}
