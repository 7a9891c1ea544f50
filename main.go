package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	projectsapi "visual-projects/handlers/api/projects"
	authMiddleware "visual-projects/middleware"
	"visual-projects/project"
	"visual-projects/stores"
)

func setupRouter(svc *project.Service) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	conflictRetries := envInt("SAVE_CONFLICT_RETRIES", 0)

	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/", projectsapi.HandleListProjects(svc))
		r.Get("/get", projectsapi.HandleGetProject(svc))

		r.Group(func(r chi.Router) {
			if secret := os.Getenv("API_JWT_SECRET"); secret != "" {
				r.Use(authMiddleware.AuthJWT([]byte(secret)))
			}
			r.Post("/save", projectsapi.HandleSaveProject(svc, conflictRetries))
		})
	})

	return r
}

func waitForShutdown() {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
}

func annotationPolicy() project.AnnotationPolicy {
	if os.Getenv("ANNOTATION_POLICY") == "strict" {
		return project.AnnotationPolicyStrict
	}
	return project.AnnotationPolicySkip
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Fatalf("Invalid %s: %v", name, err)
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Fatalf("Invalid %s: %v", name, err)
	}
	return d
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	store := stores.GetStore()
	svc := project.NewService(store, project.Config{
		BasePath:    os.Getenv("PROJECTS_BASE_PATH"),
		Policy:      annotationPolicy(),
		CallTimeout: envDuration("STORE_CALL_TIMEOUT", 30*time.Second),
	})

	r := setupRouter(svc)

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown()
}
