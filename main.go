package main

import (
	"time"

	"gorm.io/gorm"

	"github.com/cppla/chartgate/audit"
	"github.com/cppla/chartgate/config"
	"github.com/cppla/chartgate/controllers"
	"github.com/cppla/chartgate/models"
	"github.com/cppla/chartgate/routes"
	"github.com/cppla/chartgate/storage"
	"github.com/cppla/chartgate/utils"
	"github.com/cppla/chartgate/validation"
	"github.com/cppla/chartgate/vision"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	var db *gorm.DB
	var recorder validation.Recorder
	if cfg.DatabaseEnabled {
		db = config.InitDatabase(&models.SecurityEvent{}, &models.UploadedFile{})
		recorder = audit.NewDBRecorder(db, 256, utils.Sugar)
	} else {
		utils.Sugar.Warn("database disabled, security events kept in memory only")
		recorder = audit.NewMemoryRecorder()
	}

	store := storage.NewLocalStore(cfg.StorageBaseDir, cfg.StoragePublicBase)

	var analyzer vision.Analyzer
	if cfg.VisionEnabled {
		if cfg.OpenAIAPIKey != "" {
			analyzer = vision.NewOpenAIAnalyzer(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.VisionModel)
		} else {
			utils.Sugar.Warn("vision enabled without API key, using simulated analyzer")
			analyzer = vision.NewMockAnalyzer()
		}
	}

	uploadController := controllers.NewUploadController(db, store, analyzer, recorder)
	uploadController.AbuseGuard = true

	r := routes.SetupRouter(uploadController)

	// Start background cleanup for expired uploads (best-effort)
	utils.StartUploadCleaner(5 * time.Minute)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
