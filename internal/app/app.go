package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/modelarena/modelarena/internal/config"
	"github.com/modelarena/modelarena/internal/db"
	adminapi "github.com/modelarena/modelarena/internal/http/api/admin"
	"github.com/modelarena/modelarena/internal/http/api/front"
	"github.com/modelarena/modelarena/internal/pricing"
	"github.com/modelarena/modelarena/internal/provider"
	internalsettings "github.com/modelarena/modelarena/internal/settings"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the API server with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	internalsettings.RegisterDBConfig(conn)

	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return errInit
	}
	if !initialized {
		log.Warn("no admin account exists; the admin API is unusable until one is created")
	}

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	if strings.TrimSpace(jwtConfig.Secret) == "" {
		log.Warn("jwt secret is empty; token verification will reject all tokens")
	}
	stripeConfig, _ := config.LoadStripeConfig(configPath)
	if strings.TrimSpace(stripeConfig.SecretKey) == "" {
		log.Warn("stripe secret key is empty; checkout sessions will fail")
	}

	registry := BuildRegistry()

	srvCfg := loadServerConfig(configPath, defaultPort)
	if srvCfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	adminapi.RegisterAdminRoutes(engine, conn, jwtConfig)
	front.RegisterFrontRoutes(engine, conn, jwtConfig, stripeConfig, registry)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", srvCfg.Host, srvCfg.Port),
		Handler: engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting server on %s with config=%s", srv.Addr, configPath)
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

// BuildRegistry maps every priced model to its generation backend. Only
// the simulated backend ships; real providers register here.
func BuildRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	textGen := &provider.MockGenerator{}
	for _, id := range pricing.TextModels() {
		registry.Register(id, textGen)
	}
	imageGen := &provider.MockGenerator{Image: true}
	for _, id := range pricing.ImageModels() {
		registry.Register(id, imageGen)
	}
	return registry
}

// serverConfig holds listener settings from the config file.
type serverConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// loadServerConfig reads listener settings, falling back to the default port.
func loadServerConfig(configPath string, defaultPort int) serverConfig {
	result := serverConfig{Port: defaultPort}
	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg serverConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg
		}
	}
	if result.Port <= 0 {
		result.Port = defaultPort
	}
	if result.Port <= 0 {
		result.Port = 8318
	}
	return result
}
