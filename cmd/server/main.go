package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/skilltrace/backend/internal/cache"
	"github.com/skilltrace/backend/internal/database"
	"github.com/skilltrace/backend/internal/feedback"
	"github.com/skilltrace/backend/internal/recommend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Optional Redis cache; nil disables caching.
	c, err := cache.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer c.Close()

	// Initialize services
	recStore := recommend.NewStore(db)
	recService, err := recommend.NewService(recStore, c)
	if err != nil {
		log.Fatalf("Failed to initialize recommendation service: %v", err)
	}
	fbService := feedback.NewService(feedback.NewStore(db), recStore)
	recService.SetExpertSource(fbService)

	recHandler := recommend.NewHandler(recService)
	fbHandler := feedback.NewHandler(fbService)

	// Background training
	interval := 15 * time.Minute
	if v := os.Getenv("TRAINING_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Minute
		}
	}
	recService.StartTrainingWorker(ctx, interval)

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/learners/{id}/recommendation", recHandler.GetRecommendation).Methods("GET")
	api.HandleFunc("/learners/{id}/recommendations", recHandler.GetRecommendationHistory).Methods("GET")
	api.HandleFunc("/learners/{id}/profile", recHandler.GetProfile).Methods("GET")
	api.HandleFunc("/attempts", recHandler.SubmitAttempt).Methods("POST")
	api.HandleFunc("/skills", recHandler.GetSkills).Methods("GET")
	api.HandleFunc("/skills/validate", recHandler.GetGraphValidation).Methods("GET")
	api.HandleFunc("/training/run", recHandler.TriggerTraining).Methods("POST")

	api.HandleFunc("/feedback", fbHandler.Submit).Methods("POST")
	api.HandleFunc("/feedback/stats", fbHandler.Stats).Methods("GET")
	api.HandleFunc("/recommendations/{id}/feedback", fbHandler.ListForRecommendation).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{Addr: ":" + port, Handler: corsHandler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting on :%s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
