// Package dropwire implements the transfer core of a point-to-point file
// drop: two peers exchange a set of files directly over an already
// established, secured, stream-multiplexing connection, with no relay
// retaining the data.
//
// The protocol has two roles. The sender owns a Bubble session: it opens a
// bidirectional greeting stream, announces its profile, file listing and
// proposed transfer parameters, then streams each file's chunks over its own
// unidirectional stream, never exceeding the negotiated parallelism. The
// receiver owns a single-use Handler: it answers the greeting with its own
// profile and proposal, then accepts file streams until the sender closes
// the connection with the graceful code/reason pair. Both sides derive the
// effective chunk size and stream cap independently as the minimum of the
// two proposals.
//
// # Sending
//
//	src := data.NewBytes(payload)
//	bubble, err := sender.NewBubble(sender.Request{
//	    Profile: handshake.Profile{Name: "alice"},
//	    Files:   []sender.File{{Name: "notes.txt", Data: src}},
//	    Config:  handshake.Config{ChunkSize: 1 << 20, ParallelStreams: 4},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = bubble.Run(ctx, conn) // conn: transport.Conn from Dial or Pair
//
// # Receiving
//
//	sink := data.NewMemory()
//	handler, err := receiver.NewHandler(handshake.Profile{Name: "bob"},
//	    handshake.Config{ChunkSize: 1 << 20, ParallelStreams: 4}, sink)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = handler.Handle(ctx, conn)
//
// Establishing and securing the connection is the caller's concern; the
// transport package provides a QUIC adapter for real networks and an
// in-process pair for tests.
package dropwire
