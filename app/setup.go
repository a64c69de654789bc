package app

import (
	"fmt"
	"log"
	"os"

	"github.com/outcome-edu/obe-backend/api"
	"github.com/outcome-edu/obe-backend/config"
	"github.com/outcome-edu/obe-backend/database"
	"github.com/outcome-edu/obe-backend/router"
	"github.com/outcome-edu/obe-backend/services"
	"github.com/outcome-edu/obe-backend/services/cron"
	"github.com/outcome-edu/obe-backend/services/spaces"
	"github.com/outcome-edu/obe-backend/utils/cache"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		return err
	}

	// Redis backs report caching and brute force protection. The app works
	// without it, just slower and less protected.
	var redisCache *cache.RedisCache
	if getEnv.REDIS_URL != "" {
		redisCache, err = cache.NewRedisCache(getEnv.REDIS_URL)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v. Caching disabled.", err)
			redisCache = nil
		}
	}

	// Spaces stores CSV report exports; optional.
	var spacesClient *spaces.SpacesClient
	if getEnv.DO_SPACES_KEY != "" && getEnv.DO_SPACES_BUCKET != "" {
		spacesClient, err = spaces.NewSpacesClient(spaces.SpacesConfig{
			AccessKey: getEnv.DO_SPACES_KEY,
			SecretKey: getEnv.DO_SPACES_SECRET,
			Bucket:    getEnv.DO_SPACES_BUCKET,
			Region:    getEnv.DO_SPACES_REGION,
			Endpoint:  getEnv.DO_SPACES_ENDPOINT,
			CDNURL:    getEnv.DO_SPACES_CDN_URL,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize Spaces client: %v. Exports disabled.", err)
			spacesClient = nil
		}
	}

	performanceService := services.NewPerformanceService(store.DB(), redisCache)

	// Cron manager refreshes attainment snapshots and purges expired tokens
	var cronManager *cron.CronManager
	if os.Getenv("CRON_ENABLED") != "false" { // Default to enabled
		cronManager = cron.NewCronManager(store.DB(), performanceService)
		if err := cronManager.Start(); err != nil {
			log.Printf("Warning: Failed to start cron jobs: %v", err)
		}
	}

	// Defer Closing DB and stopping cron jobs
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		store.Close()
		if redisCache != nil {
			redisCache.Close()
		}
	}()

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	// Setup Routes
	router.SetupRoutes(app, router.Dependencies{
		Store:       store,
		Env:         getEnv,
		RedisCache:  redisCache,
		Spaces:      spacesClient,
		Performance: performanceService,
	})

	// Get the PORT & Start the Server
	return server.Run()
}
