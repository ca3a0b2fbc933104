package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/config"
	"classattend/internal/course"
	"classattend/internal/enrollment"
	"classattend/internal/faceclient"
	"classattend/internal/httpmiddleware"
	"classattend/internal/ingest"
	"classattend/internal/logger"
	"classattend/internal/metrics"
	"classattend/internal/ocrclient"
	"classattend/internal/profile"
	"classattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db.Client, log); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	ocr := ocrclient.New(cfg.OCRServiceURL)

	// The cell model is loaded once at startup and injected; tabular
	// ingestion is disabled if it is missing, the rest of the app runs.
	var classifier ingest.CellClassifier
	if tree, err := ingest.LoadTree(cfg.CellModelPath); err != nil {
		log.Warn("cell classifier not loaded, tabular enrollment uploads disabled",
			zap.String("path", cfg.CellModelPath), zap.Error(err))
	} else {
		classifier = tree
	}

	attRepo := attendance.NewRepository(db.Client)
	engine := attendance.NewEngine(attRepo, attRepo, cfg.MatchThreshold, cfg.MatchTopK, cfg.MatchTimeout, cfg.GracePeriod, log)

	courseSvc := course.NewService(course.NewRepository(db.Client), log)
	profileRepo := profile.NewRepository(db.Client)
	enrollRepo := enrollment.NewRepository(db.Client)
	enrollSvc := enrollment.NewService(enrollRepo, ocr, classifier, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, redisClient).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		redisHealthy := redisClient.Healthy(ctx)
		dbHealthy := db.Client.PingContext(ctx) == nil
		faceHealthy := face.Health(ctx) == nil
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy, "face_service": faceHealthy})
	})

	r.POST("/v1/kiosks/register", func(c *gin.Context) {
		var req struct {
			KioskID string `json:"kiosk_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := engine.RegisterKiosk(c.Request.Context(), req.KioskID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.KioskID, "kiosk", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = attRepo.SaveRefreshToken(c.Request.Context(), req.KioskID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	kioskGroup := r.Group("/v1", auth.KioskAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	kioskGroup.POST("/checkins", func(c *gin.Context) {
		var req struct {
			CourseID    int64  `json:"course_id" binding:"required"`
			ImageBase64 string `json:"image_base64" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		embedding, err := face.Embed(c.Request.Context(), req.ImageBase64)
		if err != nil {
			status, outcome := checkinFailure(err)
			metrics.CheckinsTotal.WithLabelValues(outcome).Inc()
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		result, err := engine.CheckIn(c.Request.Context(), req.CourseID, embedding, time.Now().UTC())
		if err != nil {
			status, outcome := checkinFailure(err)
			metrics.CheckinsTotal.WithLabelValues(outcome).Inc()
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		metrics.CheckinsTotal.WithLabelValues(result.Status).Inc()
		c.JSON(http.StatusOK, result)
	})

	kioskGroup.POST("/faces/enroll", func(c *gin.Context) {
		var req struct {
			StudentCode string `json:"student_code" binding:"required"`
			Name        string `json:"name"`
			ImageBase64 string `json:"image_base64" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		embedding, err := face.Embed(c.Request.Context(), req.ImageBase64)
		if err != nil {
			status, _ := checkinFailure(err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		p, err := attRepo.EnrollFace(c.Request.Context(), req.StudentCode, req.Name, embedding)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": p})
	})

	r.POST("/v1/courses", func(c *gin.Context) {
		var in course.CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := courseSvc.Create(c.Request.Context(), in)
		if err != nil {
			c.JSON(adminFailure(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	r.GET("/v1/courses", func(c *gin.Context) {
		courses, err := courseSvc.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, courses)
	})

	r.GET("/v1/courses/:id", func(c *gin.Context) {
		id, err := pathID(c)
		if err != nil {
			return
		}
		found, err := courseSvc.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(adminFailure(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, found)
	})

	r.GET("/v1/sessions/:id", func(c *gin.Context) {
		id, err := pathID(c)
		if err != nil {
			return
		}
		detail, err := courseSvc.SessionDetail(c.Request.Context(), id)
		if err != nil {
			c.JSON(adminFailure(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	r.POST("/v1/lecturers", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		lect, err := profileRepo.CreateLecturer(c.Request.Context(), req.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, lect)
	})

	r.GET("/v1/lecturers", func(c *gin.Context) {
		lecturers, err := profileRepo.ListLecturers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, lecturers)
	})

	r.POST("/v1/courses/:id/enrollments/upload", func(c *gin.Context) {
		courseID, err := pathID(c)
		if err != nil {
			return
		}
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}

		summary, err := enrollSvc.EnrollFromUpload(c.Request.Context(), courseID, enrollment.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
		if err != nil {
			c.JSON(adminFailure(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	r.POST("/v1/courses/:id/students", func(c *gin.Context) {
		courseID, err := pathID(c)
		if err != nil {
			return
		}
		var req struct {
			StudentCode string `json:"student_code" binding:"required"`
			Name        string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		profileID, err := enrollSvc.AddStudent(c.Request.Context(), courseID, req.StudentCode, req.Name)
		if err != nil {
			c.JSON(adminFailure(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "student enrolled", "profile_id": profileID})
	})

	r.GET("/v1/courses/:id/enrollments", func(c *gin.Context) {
		courseID, err := pathID(c)
		if err != nil {
			return
		}
		roster, err := enrollRepo.ListByCourse(c.Request.Context(), courseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enrollments": roster})
	})

	r.POST("/v1/enrollments/search", func(c *gin.Context) {
		var filter enrollment.SearchFilter
		if err := c.ShouldBindJSON(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := enrollRepo.Search(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// checkinFailure maps a check-in pipeline error to an HTTP status and a
// metrics outcome label. Each taxonomy entry gets its own status so the
// kiosk UI can render a distinct message.
func checkinFailure(err error) (int, string) {
	switch {
	case errors.Is(err, attendance.ErrNoMatch):
		return http.StatusNotFound, "no_match"
	case errors.Is(err, attendance.ErrNotEnrolled):
		return http.StatusForbidden, "not_enrolled"
	case errors.Is(err, attendance.ErrNoActiveSession):
		return http.StatusBadRequest, "no_active_session"
	case errors.Is(err, attendance.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, attendance.ErrMatcherTimeout), errors.Is(err, faceclient.ErrTimeout):
		return http.StatusGatewayTimeout, "matcher_timeout"
	case errors.Is(err, attendance.ErrMatcherUnavailable), errors.Is(err, faceclient.ErrUnavailable):
		return http.StatusServiceUnavailable, "matcher_unavailable"
	case errors.Is(err, faceclient.ErrNoFace):
		return http.StatusBadRequest, "no_face"
	default:
		return http.StatusInternalServerError, "error"
	}
}

// adminFailure maps admin/enrollment errors to HTTP statuses.
func adminFailure(err error) int {
	switch {
	case errors.Is(err, course.ErrCourseNotFound), errors.Is(err, course.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, course.ErrInvalidTemplate), errors.Is(err, course.ErrNameRequired):
		return http.StatusBadRequest
	case errors.Is(err, enrollment.ErrInvalidFileType):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrNoValidRecords), errors.Is(err, enrollment.ErrNoResolvableEnrollment):
		return http.StatusBadRequest
	case errors.Is(err, enrollment.ErrClassifierNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ocrclient.ErrUnavailable), errors.Is(err, ocrclient.ErrBadResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// pathID parses the :id path param, writing the 400 itself on failure.
func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
