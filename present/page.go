package present

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
)

// UnsupportedMessage is shown when no device can run compute jobs.
const UnsupportedMessage = "need a GPU that supports WebGPU compute"

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const url = new URL({{.Path}}, location.href);
url.protocol = url.protocol === "https:" ? "wss:" : "ws:";
const ws = new WebSocket(url);
ws.onmessage = (ev) => { log.textContent += ev.data + "\n"; };
ws.onclose = () => { log.textContent += "(disconnected)\n"; };
</script>
</body>
</html>
`))

// Page returns a handler serving an HTML page that connects to the
// WebSocket at wsPath and appends each received line to a <pre>.
func Page(wsPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := pageTmpl.Execute(w, struct{ Title, Path string }{"compute", wsPath})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// Fail writes UnsupportedMessage as a line to w.
func Fail(w io.Writer) error {
	_, err := fmt.Fprintln(w, UnsupportedMessage)
	return err
}
