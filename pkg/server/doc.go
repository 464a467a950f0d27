/*
Package server is a static file server speaking a minimal HTTP/1.0 over a
fixed worker pool.

The accept loop hands every accepted connection to the pool as one task.
When the pool queue is full the accept loop blocks, so a slow disk or a
burst of clients pushes back onto the kernel listen backlog instead of
growing memory. Each task reads a single request of up to 4096 bytes, writes
one response and closes the connection.

	srv, err := server.New(server.Config{
		Addr:        ":8080",
		Root:        "/srv/www",
		Workers:     8,
		QueueSize:   64,
		MaxRequests: 1000,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := srv.Serve(ctx); err != nil {
		log.Fatal(err)
	}

Serve returns after MaxRequests connections have been accepted or ctx is
canceled. In both cases queued connections are still answered before it
returns.

Only GET is supported. Directories without a trailing slash are redirected,
directories with an index.html serve it, and other directories get a
generated listing. Request paths are cleaned before they are joined to Root,
so "..", absolute or repeated separators never leave Root.

Optional collaborators:

  - AcceptRate and AcceptBurst throttle the accept loop with a token bucket
  - Admission consults a cluster-wide limiter and answers 503 when denied
  - AccessLog receives one line per answered request
  - Metrics records pool, request and limiter metrics
*/
package server
