/*
Package streaming protects long downloads from stalled clients.

The HTTP server runs without a write timeout so that large videos can be
downloaded over slow links. [Writer] restores a bound per write instead of
per response: it wraps an http.ResponseWriter, splits large writes into
chunks and gives up on a chunk that the client does not accept within
WriteTimeout. Once a write fails every later write fails too, which makes
http.ServeContent stop copying.

	sw := streaming.NewWriter(r.Context(), w, streaming.DefaultConfig())
	defer sw.Close()
	http.ServeContent(sw, r, name, modTime, f)

Errors are reported as [ErrWriteTimeout], [ErrClientGone] or
[ErrStreamCanceled] and can be matched with errors.Is.
*/
package streaming
