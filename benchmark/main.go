// Package main provides a benchmark tool for stepq to measure task throughput.
// It creates a large number of PrepareTransfer tasks in the Redis task store
// and waits until a worker has drained them.
//
// Usage:
//
//	go run ./benchmark -tasks 100000
//
// The processes referenced by the tasks do not exist, so a worker finishes
// every task with a fatal result after a single attempt.
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/stepq/pkg/service"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to create")
	numWorkers := flag.Int("workers", 10, "Number of concurrent creators")
	addr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{Addr: *addr})
	defer rdb.Close()
	taskStore := store.NewRedisStore(rdb, "")
	svc := service.New(taskStore, nil)
	ctx := context.Background()

	fmt.Printf("stepq Benchmark\n")
	fmt.Printf("===============\n")
	fmt.Printf("Tasks to create: %d\n", *numTasks)
	fmt.Printf("Concurrent workers: %d\n\n", *numWorkers)

	// Create phase
	fmt.Printf("Starting create phase...\n")
	startCreate := time.Now()

	var wg sync.WaitGroup
	var created atomic.Int64
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				ref, _ := tasks.NewProcessRef(uuid.NewString(), "INITIAL", "CONSUMER")
				task, err := tasks.New(time.Now().UnixMilli(), tasks.PrepareTransfer{ProcessRef: ref})
				if err == nil {
					_, err = svc.Create(ctx, task)
				}
				if err != nil {
					fmt.Printf("Error creating task: %v\n", err)
					return
				}
				created.Add(1)
			}
		}()
	}

	wg.Wait()
	createTime := time.Since(startCreate)

	fmt.Printf("✓ Created %d tasks in %s\n", created.Load(), createTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(created.Load())/createTime.Seconds())

	// Wait for processing
	fmt.Printf("Waiting for all tasks to be processed...\n")
	startProcess := time.Now()

	// Poll the store until the backlog is empty
	for {
		remaining, err := taskStore.Backlog(ctx)
		if err != nil {
			fmt.Printf("Error reading backlog: %v\n", err)
			return
		}
		if remaining == 0 {
			break
		}

		// Print progress every 2 seconds
		time.Sleep(2 * time.Second)
		fmt.Printf("  Remaining: %d tasks\n", remaining)
	}

	processTime := time.Since(startProcess)
	total := created.Load()

	fmt.Printf("\n✓ All tasks processed in %s\n", processTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n", float64(total)/processTime.Seconds())

	totalTime := createTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(total)/totalTime.Seconds())
}
