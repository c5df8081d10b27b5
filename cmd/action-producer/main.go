package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/kafka"
	"github.com/google/uuid"
)

var usernames = []string{
	"Fern", "Moss", "Willow", "River", "Sky", "Coral", "Reed", "Cedar", "Sage", "Birch",
	"Maple", "Heather", "Rowan", "Aspen", "Juniper", "Clover", "Hazel", "Linden", "Ivy", "Briar",
}

var (
	sizes        = []string{"small", "medium", "large", "very large"}
	trashTypes   = []string{"general", "plastic", "glass", "metal", "organic", "hazardous"}
	severities   = []string{"low", "medium", "high"}
	difficulties = []string{"easy", "medium", "hard"}
)

func userID(idx int) string {
	return fmt.Sprintf("user-%05d", idx)
}

func username(idx int) string {
	return fmt.Sprintf("%s%d", usernames[idx%len(usernames)], idx/len(usernames)+1)
}

// randomPoint scatters actions around a city centre
func randomPoint(lat, lng float64) (float64, float64) {
	return lat + (rand.Float64()-0.5)*0.1, lng + (rand.Float64()-0.5)*0.1
}

func reportEvent(idx int, lat, lng float64) kafka.ActionEvent {
	plat, plng := randomPoint(lat, lng)
	return kafka.ActionEvent{
		EventID:  uuid.New().String(),
		Type:     kafka.EventReportSubmitted,
		UserID:   userID(idx),
		Username: username(idx),
		Report: &domain.ReportContext{
			ReportID:         uuid.New().String(),
			Size:             sizes[rand.Intn(len(sizes))],
			TrashType:        trashTypes[rand.Intn(len(trashTypes))],
			Severity:         severities[rand.Intn(len(severities))],
			HasAIDescription: rand.Intn(2) == 0,
			Latitude:         plat,
			Longitude:        plng,
		},
		OccurredAt: time.Now().UTC(),
	}
}

func cleanupEvent(idx int, lat, lng float64) kafka.ActionEvent {
	plat, plng := randomPoint(lat, lng)
	return kafka.ActionEvent{
		EventID:  uuid.New().String(),
		Type:     kafka.EventCleanupVerified,
		UserID:   userID(idx),
		Username: username(idx),
		Cleanup: &domain.CleanupContext{
			CleanupID:              uuid.New().String(),
			VerificationConfidence: 0.5 + rand.Float64()*0.5,
			Verified:               rand.Intn(10) < 8,
			TimeTakenSeconds:       300 + rand.Intn(3600),
			Difficulty:             difficulties[rand.Intn(len(difficulties))],
			Latitude:               plat,
			Longitude:              plng,
		},
		OccurredAt: time.Now().UTC(),
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "cleanup-actions", "Kafka topic")
	totalUsers := flag.Int("users", 200, "Number of users to register")
	actionsPerSecond := flag.Int("rate", 20, "Actions per second")
	cleanupShare := flag.Int("cleanup-share", 40, "Percentage of actions that are cleanups")
	lat := flag.Float64("lat", 52.52, "Latitude of the area actions are scattered around")
	lng := flag.Float64("lng", 13.405, "Longitude of the area actions are scattered around")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	registerOnly := flag.Bool("register-only", false, "Only register users, no actions")
	flag.Parse()

	if *totalUsers < 1 || *actionsPerSecond < 1 {
		log.Fatal("users and rate must be positive")
	}
	brokerList := strings.Split(*brokers, ",")

	fmt.Println("------------------------------------------------------------")
	fmt.Println("  Cleanup action producer")
	fmt.Println("------------------------------------------------------------")
	fmt.Printf("  Brokers:        %s\n", *brokers)
	fmt.Printf("  Topic:          %s\n", *topic)
	fmt.Printf("  Users:          %d\n", *totalUsers)
	fmt.Printf("  Actions/sec:    %d\n", *actionsPerSecond)
	fmt.Printf("  Cleanup share:  %d%%\n", *cleanupShare)
	fmt.Println("------------------------------------------------------------")
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	shutdown := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	// Keyed by user so one user's actions stay ordered on a partition.
	send := func(ev kafka.ActionEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return
		}
		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(ev.UserID),
			Value: sarama.ByteEncoder(data),
		}
		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	fmt.Printf("Registering %d users...\n", *totalUsers)
	for i := 0; i < *totalUsers; i++ {
		send(kafka.ActionEvent{
			EventID:    uuid.New().String(),
			Type:       kafka.EventUserRegistered,
			UserID:     userID(i),
			Username:   username(i),
			OccurredAt: time.Now().UTC(),
		})
	}
	fmt.Printf("Registered %d users\n\n", *totalUsers)

	if *registerOnly {
		shutdown("Register-only mode: exiting")
		return
	}

	fmt.Printf("Sending actions (%d/sec), press Ctrl+C to stop\n\n", *actionsPerSecond)

	ticker := time.NewTicker(time.Second / time.Duration(*actionsPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var actionCount int64
	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			// A small core of very active users produces combos and streaks.
			idx := rand.Intn(*totalUsers)
			if rand.Intn(100) < 60 && *totalUsers > 10 {
				idx = rand.Intn(10)
			}

			if rand.Intn(100) < *cleanupShare {
				send(cleanupEvent(idx, *lat, *lng))
			} else {
				send(reportEvent(idx, *lat, *lng))
			}
			atomic.AddInt64(&actionCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Actions: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&actionCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
