package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nicolasmoreira/linkuy-connect-app/common/logger"
	mqttcommon "github.com/nicolasmoreira/linkuy-connect-app/common/mqtt"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/config"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/detector"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/dispatcher"
	httpapi "github.com/nicolasmoreira/linkuy-connect-app/internal/http"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/inactivity"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/location"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/notify"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/sensor"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/service"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.New(logger.Options{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Service:  "linkuy-guardian",
		DeviceID: cfg.Log.DeviceID,
		File:     cfg.Log.File,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 持久化后端
	backend, err := repository.Open(ctx, repository.OpenOptions{
		Driver:      cfg.Store.Driver,
		Database:    cfg.Database,
		Redis:       cfg.Redis,
		RedisPrefix: cfg.Store.RedisPrefix,
		JournalCap:  cfg.Store.JournalCap,
	}, log.Named("store"))
	if err != nil {
		log.Fatal("Failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	store := repository.NewStateStore(backend, cfg.Store.QueueMaxEntries, log.Named("store"))
	defer store.Close()

	// 4. 上报通道与连通性
	transport := dispatcher.NewHTTPTransport(dispatcher.TransportConfig{
		Endpoint:   cfg.Dispatch.Endpoint,
		Timeout:    cfg.Dispatch.Timeout,
		MaxRetries: cfg.Dispatch.MaxRetries,
		RetryDelay: cfg.Dispatch.RetryDelay,
	}, log.Named("transport"))
	transport.SetToken(cfg.Dispatch.Token)

	conn := dispatcher.NewConnectivity(cfg.Dispatch.InitialOnline, log.Named("connectivity"))

	// 5. 平台桥接（MQTT）
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, log.Named("mqtt"))
	if err != nil {
		log.Fatal("Failed to connect to MQTT broker", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
	}
	defer mqttClient.Disconnect()
	mqttClient.OnConnectionChange(conn.Set)

	var sensorSource sensor.Source
	if cfg.Sensor.SerialPath != "" {
		sensorSource = sensor.NewSerialSource(sensor.SerialConfig{
			Path:     cfg.Sensor.SerialPath,
			BaudRate: cfg.Sensor.BaudRate,
		}, log.Named("serial"))
		log.Info("Using serial accelerometer", zap.String("path", cfg.Sensor.SerialPath))
	} else {
		sensorSource = sensor.NewMQTTSource(mqttClient, sensor.DefaultMQTTTopics(cfg.Platform.TopicPrefix), cfg.MQTT.QoS, log.Named("sensor"))
	}
	locationSource := location.NewMQTTSource(mqttClient, location.DefaultMQTTTopics(cfg.Platform.TopicPrefix), cfg.MQTT.QoS, log.Named("location"))

	notifier := notify.Fanout{
		notify.NewLogNotifier(log.Named("ui")),
		notify.NewMQTTNotifier(mqttClient, cfg.Platform.TopicPrefix, cfg.MQTT.QoS, log.Named("ui")),
	}

	// 6. 投递器与守护服务
	disp := dispatcher.New(transport, store, conn, dispatcher.Config{
		MaxQueueAge: cfg.Dispatch.MaxQueueAge,
	}, log.Named("dispatcher"))

	guardian := service.NewGuardianService(serviceConfig(cfg, log), service.Deps{
		Store:        store,
		Sensor:       sensorSource,
		Location:     locationSource,
		Dispatcher:   disp,
		Connectivity: conn,
		Tokens:       transport,
		Notifier:     notifier,
	}, log.Named("guardian"))

	if err := guardian.Init(ctx); err != nil {
		log.Fatal("Failed to init guardian service", zap.Error(err))
	}
	if cfg.Session.UserID > 0 {
		if err := guardian.SetSession(cfg.Session.UserID, cfg.Dispatch.Token); err != nil {
			log.Fatal("Invalid preset user", zap.Error(err))
		}
		if err := guardian.StartTracking(ctx); err != nil {
			log.Warn("Tracking not started", zap.Error(err))
		}
	}

	// 7. 本地 API
	errCh := make(chan error, 1)
	var server *http.Server
	if cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		reportLoc, _ := time.LoadLocation(cfg.Inactivity.Timezone)
		handler := httpapi.NewHandler(guardian, httpapi.NewSessionVerifier(cfg.Session.JWTSecret), httpapi.HandlerConfig{
			AllowRawUserID: cfg.Session.AllowRawUserID,
			ReportLocation: reportLoc,
		}, log.Named("api"))

		server = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           httpapi.NewRouter(handler, log.Named("api")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("Local API listening", zap.String("addr", cfg.API.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// 8. 等待信号（优雅关闭）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("Local API failed, shutting down", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Local API shutdown incomplete", zap.Error(err))
		}
	}
	guardian.Close(shutdownCtx)

	log.Info("Linkuy guardian stopped")
}

// serviceConfig 由进程配置构建守护服务配置
func serviceConfig(cfg *config.Config, log *zap.Logger) service.Config {
	sc := service.Config{
		SampleInterval: cfg.Sensor.SampleInterval,
		Fall: detector.Config{
			SampleInterval: cfg.Sensor.SampleInterval,
			WindowSize:     cfg.Fall.WindowSize,
			Thresholds: detector.Thresholds{
				FallThreshold:   cfg.Fall.Threshold,
				MinFallDuration: cfg.Fall.MinDuration,
				Cooldown:        cfg.Fall.Cooldown,
			},
			PostFallInactivity: cfg.Fall.PostFallInactivity,
		},
		MovementThreshold: cfg.Fall.MovementThreshold,
		StepThreshold:     cfg.Fall.StepThreshold,
		Inactivity: inactivity.Config{
			Threshold:    cfg.Inactivity.Threshold,
			PersistEvery: cfg.Inactivity.PersistEvery,
		},
		InactivityCheckInterval: cfg.Inactivity.CheckInterval,
		Location: location.Config{
			Interval:         cfg.Location.Interval,
			DistanceInterval: cfg.Location.DistanceInterval,
			MovementDistance: cfg.Location.MovementDistance,
		},
		Accuracy:      location.Accuracy(cfg.Location.Accuracy),
		FlushInterval: cfg.Dispatch.FlushInterval,
		ProbeAddr:     cfg.Dispatch.ProbeAddr,
		ProbeInterval: cfg.Dispatch.ProbeInterval,
		TaskName:      cfg.Scheduler.TaskName,
		TaskInterval:  cfg.Scheduler.Interval,
	}

	// 免打扰以照护方配置的形式下发，阈值按分钟表示
	if cfg.Inactivity.DNDStart != "" {
		minutes := int(cfg.Inactivity.Threshold / time.Minute)
		if minutes < 1 || cfg.Inactivity.Threshold%time.Minute != 0 {
			log.Warn("Inactivity threshold rounded to whole minutes for do-not-disturb settings",
				zap.Duration("threshold", cfg.Inactivity.Threshold),
			)
			if minutes < 1 {
				minutes = 1
			}
		}
		start, end := cfg.Inactivity.DNDStart, cfg.Inactivity.DNDEnd
		sc.Settings = &models.Settings{
			InactivityThresholdMin: minutes,
			DoNotDisturb:           true,
			DoNotDisturbStart:      &start,
			DoNotDisturbEnd:        &end,
			Timezone:               cfg.Inactivity.Timezone,
		}
	}
	return sc
}
