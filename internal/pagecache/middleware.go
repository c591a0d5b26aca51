package pagecache

import (
	"bytes"
	"net/http"

	"github.com/rs/zerolog"
)

// Middleware serves GET responses from the cache and stores successful ones.
// Cache errors degrade to an uncached response.
func Middleware(cache Cache, logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "page_cache").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			path, query := r.URL.Path, r.URL.RawQuery
			entry, ok, err := cache.Get(r.Context(), path, query)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("page cache read failed")
			}
			if ok {
				if entry.ContentType != "" {
					w.Header().Set("Content-Type", entry.ContentType)
				}
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(entry.Status)
				_, _ = w.Write(entry.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			w.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(rec, r)

			if rec.status != http.StatusOK {
				return
			}
			stored := &Entry{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := cache.Set(r.Context(), path, query, stored); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("page cache write failed")
			}
		})
	}
}

// recorder tees the response body while passing it through.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
