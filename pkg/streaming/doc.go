/*
Package streaming holds the buffered output used by the server.

  - writer: asynchronous writer that batches small writes and flushes them
    from a background goroutine

Usage:

	w := writer.NewWithConfig(file, writer.Config{
		BufferSize:    64 * 1024,
		FlushInterval: time.Second,
	})
	defer w.Close()

	fmt.Fprintf(w, "%s %d\n", path, status)

Request handlers write one access log line each; the writer turns those into
a few large writes so that logging never costs a syscall per request.
*/
package streaming
