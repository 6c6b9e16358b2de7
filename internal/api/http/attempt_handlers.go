// Package http exposes the navigator operations to the UI layer as thin JSON
// handlers. All assessment semantics live behind the session service; these
// functions only decode input, pick status codes, and encode output.
package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/nav"
	"github.com/openassess/qti-runtime/internal/qti"
	"github.com/openassess/qti-runtime/internal/result"
	"github.com/openassess/qti-runtime/internal/session"
)

func CreateAttemptHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AssessmentID string `json:"assessment_id"`
			UserID       string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if req.AssessmentID == "" || req.UserID == "" {
			http.Error(w, "assessment_id and user_id required", 400)
			return
		}
		a, err := svc.StartAttempt(r.Context(), req.AssessmentID, req.UserID, clientIP(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(a)
	}
}

func SubmitItemsHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		var inputs map[string]eval.ItemInput
		if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		a, err := svc.SubmitItems(r.Context(), id, inputs, clientIP(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(a)
	}
}

func GoToSectionHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		pos, err := strconv.Atoi(chi.URLParam(r, "pos"))
		if err != nil {
			http.Error(w, "bad section position", 400)
			return
		}
		a, err := svc.GoToSection(r.Context(), id, pos, clientIP(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(a)
	}
}

func GoToItemHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		sec, err1 := strconv.Atoi(chi.URLParam(r, "sectionPos"))
		item, err2 := strconv.Atoi(chi.URLParam(r, "itemPos"))
		if err1 != nil || err2 != nil {
			http.Error(w, "bad item position", 400)
			return
		}
		a, err := svc.GoToItem(r.Context(), id, sec, item, clientIP(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(a)
	}
}

func GetAttemptHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Status(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(a)
	}
}

func ListResultsHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.Results(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if rows == nil {
			rows = []result.Result{}
		}
		_ = json.NewEncoder(w).Encode(rows)
	}
}

// writeErr maps the error taxonomy onto status codes: missing rows are 404,
// navigator contract violations are the caller's bug and come back 400,
// anything else (persistence) is 500.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, result.ErrNotFound), errors.Is(err, qti.ErrNotFound):
		http.Error(w, err.Error(), 404)
	case errors.Is(err, nav.ErrWrongNavigator),
		errors.Is(err, nav.ErrBadPosition),
		errors.Is(err, nav.ErrNotRunning),
		errors.Is(err, nav.ErrAlreadyFinished),
		errors.Is(err, nav.ErrNoCurrentSection),
		errors.Is(err, nav.ErrSectionClosed),
		errors.Is(err, nav.ErrItemClosed):
		http.Error(w, err.Error(), 400)
	default:
		http.Error(w, err.Error(), 500)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
