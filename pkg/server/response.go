package server

import (
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// rfc1123 is the Date header layout. Times are always written in GMT.
const rfc1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

const serverName = "webserver/1.0"

// fileChunkSize is the read size used to stream files.
const fileChunkSize = 64 * 1024

const (
	statusOK                  = 200
	statusFound               = 302
	statusBadRequest          = 400
	statusForbidden           = 403
	statusNotFound            = 404
	statusInternalServerError = 500
	statusNotSupported        = 501
	statusServiceUnavailable  = 503
)

var statusText = map[int]string{
	statusOK:                  "OK",
	statusFound:               "Found",
	statusBadRequest:          "Bad Request",
	statusForbidden:           "Forbidden",
	statusNotFound:            "Not Found",
	statusInternalServerError: "Internal Server Error",
	statusNotSupported:        "Not Supported",
	statusServiceUnavailable:  "Service Unavailable",
}

// mimeType returns the Content-Type for a file name by its extension.
func mimeType(name string) string {
	ext := filepath.Ext(name)
	switch ext {
	case "":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// responseWriter writes one HTTP/1.0 response and remembers its status and
// size for logging.
type responseWriter struct {
	w       io.Writer
	status  int
	written int64
	now     func() time.Time
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.w.Write(p)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) date() string {
	now := time.Now
	if rw.now != nil {
		now = rw.now
	}
	return now().UTC().Format(rfc1123)
}

// writeHeader writes the status line and the common headers. extra lines
// are written verbatim before Content-Type.
func (rw *responseWriter) writeHeader(status int, contentType string, length int64, extra ...string) error {
	rw.status = status

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.0 %d %s\r\n", status, statusText[status])
	fmt.Fprintf(&b, "Server: %s\r\n", serverName)
	fmt.Fprintf(&b, "Date: %s\r\n", rw.date())
	for _, line := range extra {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&b, "Content-Length: %d\r\n", length)
	b.WriteString("Connection: close\r\n\r\n")

	_, err := io.WriteString(rw, b.String())
	return err
}

func (rw *responseWriter) writeBody(status int, contentType, body string, extra ...string) error {
	if err := rw.writeHeader(status, contentType, int64(len(body)), extra...); err != nil {
		return err
	}
	_, err := io.WriteString(rw, body)
	return err
}

// writeError sends an HTML error page.
func (rw *responseWriter) writeError(status int, message string) error {
	text := statusText[status]
	body := fmt.Sprintf("<HTML><HEAD><TITLE>%d %s</TITLE></HEAD>\n<BODY><H4>%d %s</H4>\n%s\n</BODY></HTML>\n",
		status, text, status, text, message)
	return rw.writeBody(status, "text/html", body)
}

// writeRedirect sends 302 Found pointing at location.
func (rw *responseWriter) writeRedirect(location string) error {
	body := fmt.Sprintf("<HTML><HEAD><TITLE>302 Found</TITLE></HEAD>\n<BODY><H4>302 Found</H4>\nRedirecting to %s\n</BODY></HTML>\n",
		html.EscapeString(location))
	return rw.writeBody(statusFound, "text/html", body, "Location: "+location)
}

// writeFile streams the file at name. A file that cannot be opened is
// answered 403.
func (rw *responseWriter) writeFile(name string, info os.FileInfo) error {
	f, err := os.Open(name)
	if err != nil {
		return rw.writeError(statusForbidden, "Access denied.")
	}
	defer f.Close()

	if err := rw.writeHeader(statusOK, mimeType(name), info.Size()); err != nil {
		return err
	}
	_, err = io.CopyBuffer(onlyWriter{rw}, f, make([]byte, fileChunkSize))
	return err
}

// onlyWriter hides ReadFrom so CopyBuffer uses the chunk buffer.
type onlyWriter struct {
	io.Writer
}

// writeListing sends an HTML table of the entries in dir.
func (rw *responseWriter) writeListing(dir, requestPath string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return rw.writeError(statusInternalServerError, "Failed to open directory.")
	}

	title := html.EscapeString(requestPath)
	var b strings.Builder
	fmt.Fprintf(&b, "<HTML>\n<HEAD><TITLE>Index of %s</TITLE></HEAD>\n<BODY>\n<H4>Index of %s</H4>\n", title, title)
	b.WriteString("<table CELLSPACING=8>\n<tr><th>Name</th><th>Last Modified</th><th>Size</th></tr>\n")
	b.WriteString("<tr><td><A HREF=\"..\">Parent Directory</A></td><td></td><td></td></tr>\n")

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		name := html.EscapeString(entry.Name())
		modified := info.ModTime().UTC().Format(rfc1123)
		if info.IsDir() {
			fmt.Fprintf(&b, "<tr><td><A HREF=\"%s/\">%s/</A></td><td>%s</td><td>-</td></tr>\n", name, name, modified)
		} else {
			fmt.Fprintf(&b, "<tr><td><A HREF=\"%s\">%s</A></td><td>%s</td><td>%d</td></tr>\n", name, name, modified, info.Size())
		}
	}
	fmt.Fprintf(&b, "</table>\n<HR>\n<ADDRESS>%s</ADDRESS>\n</BODY></HTML>\n", serverName)

	return rw.writeBody(statusOK, "text/html", b.String())
}
