package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mmcdole/kinoview/internal/domain"
)

var errRangeNotSatisfiable = errors.New("range not satisfiable")

func (p *Proxy) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/stream/{key}", p.handleStream)
	r.Head("/stream/{key}", p.handleStream)
	return r
}

func (p *Proxy) handleStream(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	exp, sig, err := extractSigned(r.URL.Query())
	if err != nil || !p.signer.verify(key, exp, sig) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	e, ok := p.lookup(key)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	meta, err := p.resolveMeta(r.Context(), e)
	if err != nil {
		p.logger.Warn("proxy stat failed", "key", key, "error", err)
		http.Error(w, "upstream", upstreamStatus(err))
		return
	}

	start, end, partial, err := parseRange(r.Header.Get("Range"), meta.Size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", meta.Size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	// Fetch the first chunk before committing headers so failures get a proper status
	first := start / p.cfg.ChunkSize
	var head []byte
	if r.Method != http.MethodHead {
		head, err = p.chunk(r.Context(), e, meta.Size, first)
		if err != nil {
			p.logger.Warn("proxy chunk failed", "key", key, "chunk", first, "error", err)
			http.Error(w, "upstream", upstreamStatus(err))
			return
		}
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	if meta.ContentType != "" {
		h.Set("Content-Type", meta.ContentType)
	}
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	status := http.StatusOK
	if partial {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, meta.Size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	last := end / p.cfg.ChunkSize
	for idx := first; idx <= last; idx++ {
		data := head
		if idx != first {
			data, err = p.chunk(r.Context(), e, meta.Size, idx)
			if err != nil {
				if r.Context().Err() == nil {
					p.logger.Warn("proxy chunk failed mid-stream", "key", key, "chunk", idx, "error", err)
				}
				return
			}
		}

		chunkStart := idx * p.cfg.ChunkSize
		lo := int64(0)
		if start > chunkStart {
			lo = start - chunkStart
		}
		hi := int64(len(data))
		if end+1-chunkStart < hi {
			hi = end + 1 - chunkStart
		}
		if lo >= hi {
			continue
		}
		if _, err := w.Write(data[lo:hi]); err != nil {
			return
		}
	}
}

// upstreamStatus maps upstream failures to the status the player sees
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// parseRange handles a single byte range. Multi-range and malformed headers
// yield the whole body, as RFC 9110 allows servers to ignore Range.
func parseRange(header string, size int64) (start, end int64, partial bool, err error) {
	if size <= 0 {
		return 0, -1, false, errRangeNotSatisfiable
	}
	full := func() (int64, int64, bool, error) { return 0, size - 1, false, nil }

	header = strings.TrimSpace(header)
	if header == "" || !strings.HasPrefix(header, "bytes=") {
		return full()
	}
	rng := strings.TrimSpace(strings.TrimPrefix(header, "bytes="))
	if strings.Contains(rng, ",") {
		return full()
	}

	dash := strings.Index(rng, "-")
	if dash < 0 {
		return full()
	}
	startStr, endStr := strings.TrimSpace(rng[:dash]), strings.TrimSpace(rng[dash+1:])

	switch {
	case startStr == "" && endStr == "":
		return full()

	case startStr == "":
		// Suffix: last n bytes
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil {
			return full()
		}
		if n <= 0 {
			return 0, 0, false, errRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, nil

	default:
		s, perr := strconv.ParseInt(startStr, 10, 64)
		if perr != nil || s < 0 {
			return full()
		}
		if s >= size {
			return 0, 0, false, errRangeNotSatisfiable
		}
		e := size - 1
		if endStr != "" {
			v, perr := strconv.ParseInt(endStr, 10, 64)
			if perr != nil || v < s {
				return full()
			}
			if v < e {
				e = v
			}
		}
		return s, e, true, nil
	}
}
