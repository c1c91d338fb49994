package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"mhw-backend/internal/actuator"
	"mhw-backend/internal/aggregator"
	"mhw-backend/internal/alert"
	"mhw-backend/internal/database"
	"mhw-backend/internal/httpapi"
	"mhw-backend/internal/models"
	"mhw-backend/internal/mqtt"
	"mhw-backend/internal/schedule"
	"mhw-backend/internal/sensor"
	"mhw-backend/internal/services"
	"mhw-backend/internal/storage"
	"mhw-backend/pkg/config"
)

// reportPlaces is the rounding of temperatures and outputs in the CSV report
const reportPlaces = 3

func main() {
	// Load configuration
	cfg := config.Load()

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	log.Printf("Starting MHW controller (run %s)...", runID)

	// === Experiment layout ===
	exp, err := config.LoadExperiment(cfg.ExperimentFile, time.Local)
	if err != nil {
		log.Fatalf("Failed to load experiment: %v", err)
	}

	table, err := exp.Registry()
	if err != nil {
		log.Fatalf("Failed to build calibration table: %v", err)
	}
	log.Printf("Calibration: %d channels registered", len(table.IDs()))

	columns := exp.ProfileColumns
	if len(columns) == 0 {
		columns = schedule.DefaultColumns
	}
	profile, err := schedule.LoadProfile(cfg.ProfileFile, schedule.LoadOptions{
		Columns:  columns,
		Shift:    schedule.ShiftDays(cfg.ProfileShiftDays),
		Location: time.Local,
	})
	if err != nil {
		log.Fatalf("Failed to load temperature profile: %v", err)
	}
	first, last := profile.Span()
	log.Printf("Profile: %d entries from %s to %s", profile.Len(), first.Format(time.DateTime), last.Format(time.DateTime))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === MQTT (optional) ===
	var (
		mqttClient *mqtt.Client
		publisher  *mqtt.Publisher
	)
	if cfg.MQTTEnabled() {
		log.Println("Connecting to MQTT broker...")
		mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			StatusTopic: cfg.MQTTTopicStatus,
		})
		if err != nil {
			log.Fatalf("Failed to initialize MQTT client: %v", err)
		}
		defer mqttClient.Close()

		publisher = mqtt.NewPublisher(mqttClient.GetNativeClient(), mqtt.PublisherConfig{
			HeaterTopic:    cfg.MQTTTopicHeater,
			AlertTopic:     cfg.MQTTTopicAlert,
			TelemetryTopic: cfg.MQTTTopicTelemetry,
			ChannelSize:    50,
		})
		go publisher.Start(ctx)
	}

	// === Sensors ===
	var reader sensor.Reader
	switch cfg.SensorSource {
	case "mqtt":
		if mqttClient == nil {
			log.Fatal("MQTT sensor source requires an MQTT broker")
		}
		sampleChan := make(chan *models.Sample, 100)
		subscriber := mqtt.NewSubscriber(mqttClient.GetNativeClient(), mqtt.SubscriberConfig{
			TemperatureTopic: cfg.MQTTTopicSensor,
		}, sampleChan)
		if err := subscriber.SubscribeAll(); err != nil {
			log.Fatalf("Failed to subscribe to sensor topics: %v", err)
		}
		mqttClient.OnReconnect(func() {
			if err := subscriber.SubscribeAll(); err != nil {
				log.Printf("Error resubscribing to sensor topics: %v", err)
			}
		})

		cache := sensor.NewCacheReader(cfg.SensorMaxAge)
		go cache.Consume(ctx, sampleChan)
		reader = cache
	default:
		w1 := sensor.NewW1Reader(cfg.W1Dir)
		if found, err := w1.Discover(); err != nil {
			log.Printf("Warning: 1-Wire discovery failed: %v", err)
		} else {
			log.Printf("1-Wire: %d probes present %v", len(found), found)
			missing := 0
			present := make(map[string]bool, len(found))
			for _, id := range found {
				present[id] = true
			}
			for _, id := range table.IDs() {
				if !present[id] {
					log.Printf("Warning: calibrated channel %s not found on the bus", id)
					missing++
				}
			}
			if missing > 0 {
				log.Printf("1-Wire: %d configured channels missing", missing)
			}
		}
		reader = w1
	}

	reader = sensor.NewRetryReader(reader, sensor.RetryConfig{
		Attempts: cfg.SensorRetries,
		Backoff:  cfg.SensorBackoff,
	})

	avgConfig := aggregator.DefaultConfig()
	avgConfig.RepeatCount = cfg.RepeatCount
	avgConfig.InterSampleDelay = cfg.InterSampleDelay
	avgConfig.InterRepeatDelay = cfg.InterRepeatDelay
	avgConfig.Concurrent = cfg.ConcurrentReads
	averager := aggregator.NewAverager(reader, table, avgConfig)

	// === Heaters ===
	var heaters actuator.Multi
	if cfg.GPIOEnabled {
		if err := exp.CheckHeaterPins(); err != nil {
			log.Fatalf("Invalid heater pins: %v", err)
		}
		gpio, err := actuator.NewGPIO(exp.HeaterPins, cfg.GPIOActiveLow)
		if err != nil {
			log.Fatalf("Failed to initialize GPIO: %v", err)
		}
		defer gpio.Close()
		heaters = append(heaters, gpio)
	} else {
		log.Println("GPIO disabled, heater commands are logged only")
		heaters = append(heaters, actuator.NewLogActuator())
	}
	if cfg.MQTTHeaters && publisher != nil {
		heaters = append(heaters, publisher)
	}

	// === Alerts ===
	notifiers := alert.Multi{alert.LogNotifier{}}
	if cfg.SMTPHost != "" {
		smtp, err := alert.NewSMTPNotifier(alert.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.AlertFrom,
			To:       cfg.AlertTo,
			Timeout:  cfg.AlertTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to initialize alert email: %v", err)
		}
		notifiers = append(notifiers, smtp)
	}
	if publisher != nil && cfg.MQTTTopicAlert != "" {
		notifiers = append(notifiers, publisher)
	}

	// === Control loop ===
	expConfig := services.DefaultExperimentConfig()
	expConfig.RunID = runID
	expConfig.Groups = exp.Groups
	expConfig.Calendar = services.Calendar{
		MHWStart:      exp.MHWStart,
		RecoveryStart: exp.RecoveryStart,
		EndAt:         exp.EndAt,
	}
	expConfig.Rates = exp.Rates
	expConfig.Tuning = exp.Tuning
	expConfig.TickInterval = cfg.TickInterval
	expConfig.PollInterval = cfg.PollInterval
	expConfig.AlertWindow = cfg.AlertWindow
	expConfig.AlertTimeout = cfg.AlertTimeout
	expConfig.MaxGroupFailures = cfg.MaxGroupFailures

	// Sinks need the record layout, which the service derives from the groups
	sinks := storage.Multi{}
	service, err := services.NewExperimentService(expConfig, services.ExperimentDeps{
		Profile:  profile,
		Sampler:  averager,
		Actuator: heaters,
		Notifier: notifiers,
		Sink:     &sinks,
		Clock:    services.SystemClock(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize experiment: %v", err)
	}
	layout := service.Layout()

	csvPath := filepath.Join(cfg.DataDir, storage.RunFileName(startedAt))
	csvSink, err := storage.NewCSVSink(csvPath, layout, reportPlaces)
	if err != nil {
		log.Fatalf("Failed to open report file: %v", err)
	}
	sinks = append(sinks, csvSink)
	log.Printf("Report: %s", csvPath)

	if cfg.ClickHouseAddr != "" {
		db, err := database.NewClickHouseDB(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePass)
		if err != nil {
			log.Fatalf("Failed to initialize ClickHouse: %v", err)
		}
		host, _ := os.Hostname()
		if err := db.SaveRun(ctx, &database.Run{
			RunID:         runID,
			StartedAt:     startedAt,
			Host:          host,
			Layout:        layout,
			MHWStart:      exp.MHWStart,
			RecoveryStart: exp.RecoveryStart,
		}); err != nil {
			log.Printf("Error saving run: %v", err)
		}
		sinks = append(sinks, db)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := storage.NewKafkaSink(storage.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			WriteTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Kafka: %v", err)
		}
		sinks = append(sinks, kafkaSink)
	}

	if publisher != nil && cfg.MQTTTopicTelemetry != "" {
		sinks = append(sinks, publisher)
	}
	defer sinks.Close()

	// === Status API ===
	go func() {
		if err := httpapi.Serve(ctx, cfg.HTTPAddr, service); err != nil {
			log.Printf("Status API stopped: %v", err)
		}
	}()

	// === Log startup info ===
	log.Println("=== MHW controller is running ===")
	log.Printf("Event ramp from %s, recovery from %s", exp.MHWStart.Format(time.DateTime), exp.RecoveryStart.Format(time.DateTime))
	log.Printf("Tick interval: %s, sensor source: %s", cfg.TickInterval, cfg.SensorSource)
	for _, g := range exp.Groups {
		log.Printf("  - Group %-10s channels=%v heater=%q ramp=%.2f", g.ID, g.Channels, g.Actuator, g.RampThreshold)
	}
	log.Println("Press Ctrl+C to exit...")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown signal received, stopping controller...")
		cancel()
	}()

	err = service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		// Heaters are already off; the supervisor restarts the controller
		alertCtx, alertCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if nerr := notifiers.Notify(alertCtx, "MHW controller stopped", err.Error()); nerr != nil {
			log.Printf("Error sending alert: %v", nerr)
		}
		alertCancel()
		sinks.Close()
		log.Fatalf("Controller stopped: %v", err)
	}

	log.Println("Shutdown complete. Goodbye!")
}
