package http

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openassess/qti-runtime/internal/qti"
	"github.com/openassess/qti-runtime/internal/qti/parser"
)

// ImportAssessmentHandler accepts a QTI 1.2 package (multipart "file": either
// a zip with imsmanifest.xml or a bare questestinterop document) and stores
// the parsed definition.
func ImportAssessmentHandler(store *qti.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file required", 400)
			return
		}
		defer f.Close()

		var def *qti.Assessment
		if strings.HasSuffix(strings.ToLower(hdr.Filename), ".zip") {
			tmp, err := os.CreateTemp("", "qti-upload-*")
			if err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			defer os.Remove(tmp.Name())
			if _, err := io.Copy(tmp, f); err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			info, _ := tmp.Stat()
			base, err := parser.UnzipToTemp(tmp, info.Size())
			if err != nil {
				http.Error(w, "unzip: "+err.Error(), 400)
				return
			}
			defer os.RemoveAll(base)
			def, err = parser.ParsePackageDir(base)
			if err != nil {
				http.Error(w, "parse: "+err.Error(), 400)
				return
			}
		} else {
			def, err = parser.ParseAssessment(f)
			if err != nil {
				http.Error(w, "parse: "+err.Error(), 400)
				return
			}
		}

		if err := store.Put(r.Context(), def); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": def.ID, "title": def.Title})
	}
}

// GetAssessmentHandler serves the definition with scoring rules stripped:
// what the UI needs to render, nothing a student could grade against.
func GetAssessmentHandler(store *qti.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := store.Get(r.Context(), chi.URLParam(r, "assessmentID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		view := *def
		view.CutValue = nil
		view.Sections = make([]qti.Section, len(def.Sections))
		for i, s := range def.Sections {
			sec := s
			sec.Items = make([]qti.Item, len(s.Items))
			for j, it := range s.Items {
				item := it
				item.Rules = nil
				sec.Items[j] = item
			}
			view.Sections[i] = sec
		}
		_ = json.NewEncoder(w).Encode(view)
	}
}
