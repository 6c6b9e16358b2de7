package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	api "github.com/openassess/qti-runtime/internal/api/http"
	"github.com/openassess/qti-runtime/internal/config"
	"github.com/openassess/qti-runtime/internal/db"
	"github.com/openassess/qti-runtime/internal/eventlog"
	"github.com/openassess/qti-runtime/internal/qti"
	"github.com/openassess/qti-runtime/internal/qti/parser"
	"github.com/openassess/qti-runtime/internal/result"
	"github.com/openassess/qti-runtime/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qtirund",
		Short: "QTI assessment runtime service",
	}
	serve := serveCmd()
	root.AddCommand(serve, importCmd())

	// bare `qtirund` serves
	root.RunE = serve.RunE
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP attempt server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}

	defs := qti.NewSQLStore(dbh)
	results := result.NewSQLStore(dbh)
	events := eventlog.NewRepo(dbh)
	svc := session.New(defs, results, events)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/assessments", api.ImportAssessmentHandler(defs))
	r.Get("/assessments/{assessmentID}", api.GetAssessmentHandler(defs))

	r.Post("/attempts", api.CreateAttemptHandler(svc))
	r.Get("/attempts/{attemptID}", api.GetAttemptHandler(svc))
	r.Get("/attempts/{attemptID}/results", api.ListResultsHandler(svc))
	r.Post("/attempts/{attemptID}/submit", api.SubmitItemsHandler(svc))
	r.Post("/attempts/{attemptID}/section/{pos}", api.GoToSectionHandler(svc))
	r.Post("/attempts/{attemptID}/item/{sectionPos}/{itemPos}", api.GoToItemHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
	return http.ListenAndServe(cfg.HTTPAddr, r)
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <package>",
		Short: "Import a QTI 1.2 test package (zip or questestinterop xml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("db open: %w", err)
			}
			def, err := parsePackage(args[0])
			if err != nil {
				return err
			}
			if err := qti.NewSQLStore(dbh).Put(ctx, def); err != nil {
				return err
			}
			log.Printf("imported assessment %s (%q, mode=%s, %d sections)",
				def.ID, def.Title, def.Mode, len(def.Sections))
			return nil
		},
	}
}

func parsePackage(path string) (*qti.Assessment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return parser.ParsePackageDir(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		base, err := parser.UnzipToTemp(f, info.Size())
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(base)
		return parser.ParsePackageDir(base)
	}
	return parser.ParseAssessment(f)
}
