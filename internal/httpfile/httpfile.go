// Package httpfile is the minimal static file server named in
// spec.md §6's five-operation surface as serve_http_file: out of
// scope for the core reactor, but small enough that a complete
// implementation needs a real one behind the HTTP reason callback
// rather than leaving that surface unimplemented.
//
// Grounded on the pack's recurring net/http.ServeContent-plus-
// path-guard pattern; reworked here to write straight to an
// api.Conn (there is no http.ResponseWriter this deep inside the
// reactor — the connection hasn't been promoted past the HTTP
// handshake state).
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package httpfile

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kestrelws/wsreactor/api"
)

// maxServedFileSize bounds how much of a file Serve will read into
// memory for a single response.
const maxServedFileSize = 8 << 20 // 8 MiB

var (
	ErrForbidden = errors.New("httpfile: path escapes root")
	ErrNotFound  = errors.New("httpfile: not found")
)

// Serve resolves uri against root and writes a complete HTTP response
// (headers plus body) directly to conn via WriteRaw. Call this from a
// protocol's HTTP reason callback; the event loop tears the connection
// down once that callback returns, same as for any other non-upgrade
// request.
func Serve(conn api.Conn, root string, uri string) error {
	// path.Clean strips a leading "../" against a rooted path, so this
	// check has to run against the raw request URI, not the cleaned
	// result — otherwise it never sees the traversal attempt it's
	// meant to catch.
	if strings.Contains(uri, "..") {
		return writeStatus(conn, 403, ErrForbidden)
	}
	clean := path.Clean("/" + uri)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return writeStatus(conn, 500, err)
	}
	full := filepath.Join(absRoot, filepath.FromSlash(clean))
	if full != absRoot && !strings.HasPrefix(full, absRoot+string(os.PathSeparator)) {
		return writeStatus(conn, 403, ErrForbidden)
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return writeStatus(conn, 404, ErrNotFound)
		}
		return writeStatus(conn, 500, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return writeStatus(conn, 404, ErrNotFound)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxServedFileSize))
	if err != nil {
		return writeStatus(conn, 500, err)
	}

	ctype := mime.TypeByExtension(filepath.Ext(full))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	header := fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		ctype, len(data),
	)
	_, err = conn.WriteRaw(append([]byte(header), data...))
	return err
}

func writeStatus(conn api.Conn, code int, cause error) error {
	text := statusText(code)
	body := fmt.Sprintf("%d %s\n", code, text)
	resp := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, text, len(body), body,
	)
	if _, err := conn.WriteRaw([]byte(resp)); err != nil {
		return err
	}
	return cause
}

func statusText(code int) string {
	switch code {
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	default:
		return "Internal Server Error"
	}
}
