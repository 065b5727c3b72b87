// Command benchmark measures LTQ publish and processing throughput against
// a broker URL, the way the teacher's benchmark tool measured GoQueue
// throughput: enqueue a batch of dummy tasks, then poll queue depth until
// drained. The tool itself consumes nothing: the drain phase ends only when
// a worker elsewhere consumes queue "benchmark" from the same broker, so
// with the default memory:// broker it does not end.
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tclesius/ltq"
	"github.com/tclesius/ltq/broker"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of messages to publish")
	numWorkers := flag.Int("workers", 10, "Number of concurrent publishers")
	brokerURL := flag.String("broker-url", "memory://", "broker URL (redis://... or memory://)")
	flag.Parse()

	br, err := broker.FromURL(*brokerURL)
	if err != nil {
		fmt.Printf("failed to open broker: %v\n", err)
		return
	}
	defer br.Close()

	ctx := context.Background()
	const queueName = "benchmark"

	fmt.Printf("LTQ Benchmark\n")
	fmt.Printf("=============\n")
	fmt.Printf("Messages to publish: %d\n", *numTasks)
	fmt.Printf("Concurrent publishers: %d\n\n", *numWorkers)

	fmt.Printf("Starting publish phase...\n")
	startPublish := time.Now()

	var wg sync.WaitGroup
	var published atomic.Int64
	perWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				msg := ltq.Message{
					ID:        fmt.Sprintf("bench-%d-%d", workerID, j),
					TaskName:  "benchmark:run",
					Args:      []any{workerID, j},
					CreatedAt: time.Now(),
				}
				if err := br.Publish(ctx, queueName, msg, 0); err != nil {
					fmt.Printf("error publishing: %v\n", err)
					return
				}
				published.Add(1)
			}
		}(i)
	}

	wg.Wait()
	publishTime := time.Since(startPublish)

	fmt.Printf("published %d messages in %s\n", published.Load(), publishTime)
	fmt.Printf("  throughput: %.2f msgs/sec\n\n", float64(published.Load())/publishTime.Seconds())

	fmt.Printf("Waiting for all messages to be consumed and acked...\n")
	startDrain := time.Now()

	for {
		size, err := br.Size(ctx, queueName)
		if err != nil {
			fmt.Printf("error checking size: %v\n", err)
			return
		}
		if size == 0 {
			break
		}
		time.Sleep(2 * time.Second)
		fmt.Printf("  remaining: %d messages\n", size)
	}

	drainTime := time.Since(startDrain)
	fmt.Printf("\ndrained in %s\n", drainTime)

	total := publishTime + drainTime
	fmt.Printf("\ntotal time: %s\n", total)
	fmt.Printf("overall throughput: %.2f msgs/sec\n", float64(*numTasks)/total.Seconds())
}
