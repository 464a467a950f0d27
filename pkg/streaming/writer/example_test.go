package writer_test

import (
	"fmt"
	"log"
	"os"

	"github.com/vnykmshr/poolserve/pkg/streaming/writer"
)

// Example writes access log lines through an async writer.
func Example() {
	w := writer.New(os.Stdout)

	fmt.Fprintf(w, "%s \"%s %s\" %d\n", "127.0.0.1:53122", "GET", "/index.html", 200)
	fmt.Fprintf(w, "%s \"%s %s\" %d\n", "127.0.0.1:53124", "GET", "/nope", 404)

	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	// Output:
	// 127.0.0.1:53122 "GET /index.html" 200
	// 127.0.0.1:53124 "GET /nope" 404
}
