// Package present delivers a job's printed output to people.
//
// Output is plain text, one message per line. A Broadcaster is an
// io.Writer that fans each complete line out to browsers connected over
// WebSocket; Page serves the HTML that connects to it and appends every
// line to a <pre> element. Late joiners are sent the lines written before
// they connected.
//
//	b := present.NewBroadcaster(nil)
//	http.Handle("/", present.Page("/ws"))
//	http.HandleFunc("/ws", b.HandleWS)
//	go http.ListenAndServe(":8080", nil)
//
//	out := io.MultiWriter(os.Stdout, b)
//	compute.PrintArray(out, "inputs", input)
package present
