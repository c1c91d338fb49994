package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/stat"

	"mhw-backend/internal/calibration"
	"mhw-backend/internal/sensor"
	"mhw-backend/pkg/config"
)

// channelLog collects the readings of one probe
type channelLog struct {
	raw        []float64
	calibrated []float64
	faults     int
}

func main() {
	duration := flag.Duration("duration", time.Minute, "how long to sample")
	interval := flag.Duration("interval", 5*time.Second, "time between rounds")
	flag.Parse()

	cfg := config.Load()

	exp, err := config.LoadExperiment(cfg.ExperimentFile, time.Local)
	if err != nil {
		log.Fatalf("Failed to load experiment: %v", err)
	}
	table, err := exp.Registry()
	if err != nil {
		log.Fatalf("Failed to build calibration table: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, *duration)
	defer stop()

	reader := sensor.NewRetryReader(sensor.NewW1Reader(cfg.W1Dir), sensor.RetryConfig{
		Attempts: cfg.SensorRetries,
		Backoff:  cfg.SensorBackoff,
	})

	ids := table.IDs()
	logs := make(map[string]*channelLog, len(ids))
	for _, id := range ids {
		logs[id] = &channelLog{}
	}

	log.Printf("Calibrate: sampling %d channels every %v for %v", len(ids), *interval, *duration)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		round(ctx, reader, table, ids, logs)

		select {
		case <-ctx.Done():
			summarise(os.Stdout, table, ids, logs)
			return
		case <-ticker.C:
		}
	}
}

// round reads every channel once and prints raw and calibrated values
func round(ctx context.Context, reader sensor.Reader, table *calibration.Table, ids []string, logs map[string]*channelLog) {
	for _, id := range ids {
		raw, err := reader.Read(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("%s: %v", id, err)
			logs[id].faults++
			continue
		}

		cal, err := table.Calibrate(id, raw)
		if err != nil {
			log.Printf("%s: %v", id, err)
			continue
		}
		logs[id].raw = append(logs[id].raw, raw)
		logs[id].calibrated = append(logs[id].calibrated, cal)
		log.Printf("%s: raw=%.3f calibrated=%.3f", id, raw, cal)
	}
}

// summarise prints the mean and spread per channel
func summarise(out *os.File, table *calibration.Table, ids []string, logs map[string]*channelLog) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "channel\tn\tfaults\traw mean\traw sd\tcal mean\tcal sd\traw_low\traw_high")
	for _, id := range ids {
		l := logs[id]
		ch, _ := table.Channel(id)
		if len(l.raw) == 0 {
			fmt.Fprintf(w, "%s\t0\t%d\t-\t-\t-\t-\t%.3f\t%.3f\n", id, l.faults, ch.RawLow, ch.RawHigh)
			continue
		}
		rawMean, rawSD := stat.MeanStdDev(l.raw, nil)
		calMean, calSD := stat.MeanStdDev(l.calibrated, nil)
		fmt.Fprintf(w, "%s\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
			id, len(l.raw), l.faults, rawMean, rawSD, calMean, calSD, ch.RawLow, ch.RawHigh)
	}
	w.Flush()
}
