// ws-loadgen is a small websocket load generator for the fan-out service.
// It holds many concurrent subscriber connections and reports how evenly
// broadcasts arrive, which is the number that matters when sizing replicas.
//
// Usage examples:
//
//	ws-loadgen -url=ws://127.0.0.1:8081/ws -c=100 -duration=30s
//	ws-loadgen -url=ws://127.0.0.1:8081/ws -c=1000 -duration=2m -ramp=10s
//
// Notes:
//   - Connections only read; the service never expects client messages.
//   - Prints a one-line summary with message counts and approximate rates.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		url      = flag.String("url", "ws://127.0.0.1:8081/ws", "Websocket endpoint to subscribe to")
		clients  = flag.Int("c", 100, "Number of concurrent subscriber connections")
		duration = flag.Duration("duration", 30*time.Second, "How long to hold the connections open")
		ramp     = flag.Duration("ramp", 0, "Spread connection dials over this window (0 = all at once)")
	)
	flag.Parse()

	if *clients <= 0 || *duration <= 0 {
		fmt.Fprintln(os.Stderr, "-c and -duration must be > 0")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var (
		connected   atomic.Int64
		dialFailed  atomic.Int64
		messages    atomic.Int64
		bytesTotal  atomic.Int64
		readErrors  atomic.Int64
		dialSpacing time.Duration
	)
	if *ramp > 0 && *clients > 1 {
		dialSpacing = *ramp / time.Duration(*clients)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if dialSpacing > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(n) * dialSpacing):
				}
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
			if err != nil {
				dialFailed.Add(1)
				return
			}
			defer conn.Close()
			connected.Add(1)

			// Unblock the read loop when the run window closes.
			go func() {
				<-ctx.Done()
				conn.SetReadDeadline(time.Now())
			}()

			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() == nil {
						readErrors.Add(1)
					}
					return
				}
				messages.Add(1)
				bytesTotal.Add(int64(len(payload)))
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	msgs := messages.Load()
	conns := connected.Load()
	perConn := float64(0)
	if conns > 0 {
		perConn = float64(msgs) / float64(conns)
	}
	fmt.Printf("clients=%d connected=%d dial_failed=%d read_errors=%d msgs=%d bytes=%d elapsed=%s msgs/conn=%.1f msgs/sec=%.1f\n",
		*clients, conns, dialFailed.Load(), readErrors.Load(), msgs, bytesTotal.Load(),
		elapsed.Round(time.Millisecond), perConn, float64(msgs)/elapsed.Seconds())
}
