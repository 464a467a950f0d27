/*
Package writer provides asynchronous buffered writing.

poolserve uses it for the access log: request handlers running on pool
workers append one line per request without waiting on disk I/O.

# Quick Start

	file, _ := os.OpenFile("access.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	w := writer.New(file)
	defer file.Close()
	defer w.Close()

	fmt.Fprintf(w, "%s %s\n", remote, path)

AsyncWriter implements io.Writer, so it can sit under fmt.Fprintf or a
log handler. Write copies its input, so callers may reuse the slice.

# Buffering

Writes go through a queue of QueueLength entries to a single goroutine that
owns a buffer of BufferSize bytes. The buffer is written out when it fills,
every FlushInterval, on Flush, and on Close.

With BlockOnFull a write waits for room in the queue. Without it a full
queue returns ErrBufferFull and the line is dropped.

# Errors

A failed write to the underlying writer is retried MaxRetries times,
RetryDelay apart. If it still fails the buffered data is discarded, the
error goes to OnError, and Flush returns it.
*/
package writer
