// Package channel implements an SPSC message channel between independent
// execution contexts over a shared memory segment.
//
// A Channel owns one segment and splits once into a Sender (producer) and a
// Replica (consumer). Either endpoint's context can be a different process:
// the creating side passes Channel.Handle (or its text encoding) to the
// other side, which reconstructs its view with FromHandle. Messages are
// opaque byte payloads delivered in FIFO order; the consumer parks on a
// futex and is woken when the ring goes non-empty.
//
//	ch, _ := channel.New(&channel.Config{Name: "jobs", Capacity: 1 << 16})
//	sender, replica, _ := ch.Split()
//
//	// worker context, usually another process
//	go func() {
//		for {
//			if _, err := replica.Run(ctx, handler); err != nil {
//				return
//			}
//		}
//	}()
//
//	_ = sender.Send(ctx, []byte("init"))
//
// Replica.Run performs a single wait/drain cycle and returns; use
// runner.Supervisor for the restart loop with backoff and pooled dispatch.
package channel
