package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"comicfacade/core"
)

type comicReply struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Img        string `json:"img"`
	Alt        string `json:"alt"`
	Transcript string `json:"transcript"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Day        int    `json:"day"`
	SafeTitle  string `json:"safe_title"`
}

type paginationReply struct {
	Page   int `json:"page"`
	Limit  int `json:"limit"`
	Pages  int `json:"pages"`
	Offset int `json:"offset"`
}

type searchReply struct {
	Query      string          `json:"query"`
	Results    []comicReply    `json:"results"`
	Total      int             `json:"total"`
	Pagination paginationReply `json:"pagination"`
}

type statsReply struct {
	Requests    map[string]uint64 `json:"requests"`
	CacheHits   uint64            `json:"cache_hits"`
	CacheMisses uint64            `json:"cache_misses"`
}

type errorReply struct {
	Error string `json:"error"`
}

const (
	msgInvalidID    = "Comic ID must be a positive integer"
	msgInvalidQuery = "Query must be between 1 and 100 characters"
	msgNotFound     = "Comic not found"
	msgInternal     = "internal error"
)

func toComicReply(c core.Comic) comicReply {
	return comicReply{
		ID:         c.ID,
		Title:      c.Title,
		Img:        c.ImageURL,
		Alt:        c.AltText,
		Transcript: c.Transcript,
		Year:       c.Year,
		Month:      c.Month,
		Day:        c.Day,
		SafeTitle:  c.SafeTitle,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorReply{Error: msg})
}

func NewPingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func NewLatestHandler(log *slog.Logger, comics core.Comics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := comics.GetLatest(r.Context())
		if err != nil {
			log.Error("get latest failed", "error", err)
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		writeJSON(w, http.StatusOK, toComicReply(c))
	}
}

func NewComicHandler(log *slog.Logger, comics core.Comics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidID)
			return
		}
		c, err := comics.GetByID(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrInvalidID):
				writeError(w, http.StatusBadRequest, msgInvalidID)
			case errors.Is(err, core.ErrNotFound):
				writeError(w, http.StatusNotFound, msgNotFound)
			default:
				log.Error("get comic failed", "id", id, "error", err)
				writeError(w, http.StatusInternalServerError, msgInternal)
			}
			return
		}
		writeJSON(w, http.StatusOK, toComicReply(c))
	}
}

func NewRandomHandler(log *slog.Logger, comics core.Comics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := comics.GetRandom(r.Context())
		if err != nil {
			log.Error("get random failed", "error", err)
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		writeJSON(w, http.StatusOK, toComicReply(c))
	}
}

func NewSearchHandler(log *slog.Logger, comics core.Comics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		// Unparseable page/limit fall back to the service defaults.
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		res, err := comics.Search(r.Context(), q, page, limit)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrInvalidQuery):
				writeError(w, http.StatusBadRequest, msgInvalidQuery)
			default:
				log.Error("search failed", "query", q, "error", err)
				writeError(w, http.StatusInternalServerError, msgInternal)
			}
			return
		}

		out := searchReply{
			Query:   res.Query,
			Results: make([]comicReply, 0, len(res.Comics)),
			Total:   res.Total,
			Pagination: paginationReply{
				Page:   res.Pagination.Page,
				Limit:  res.Pagination.Limit,
				Pages:  res.Pagination.Pages,
				Offset: res.Pagination.Offset,
			},
		}
		for _, c := range res.Comics {
			out.Results = append(out.Results, toComicReply(c))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type counterSource interface {
	Snapshot() map[string]uint64
}

func NewStatsHandler(log *slog.Logger, comics core.Comics, counters counterSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cs := comics.CacheStats()
		writeJSON(w, http.StatusOK, statsReply{
			Requests:    counters.Snapshot(),
			CacheHits:   cs.Hits,
			CacheMisses: cs.Misses,
		})
	}
}
