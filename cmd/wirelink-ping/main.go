// wirelink-ping round-trips echo requests against a running wirelinkd
// and prints per-call latency.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/wirelink/client"
	"github.com/danmuck/wirelink/internal/logging"
	"github.com/danmuck/wirelink/link"
)

type options struct {
	addr    string
	count   int
	payload string
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "/tmp/wirelinkd.stream.sock", "server stream socket path")
	flag.IntVar(&opts.count, "count", 4, "number of round trips")
	flag.StringVar(&opts.payload, "payload", "ping", "echo payload")
	flag.Parse()
	logging.ConfigureRuntime()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "wirelink-ping: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	c, err := client.Connect(client.Config{
		Kind:           link.KindStream,
		Address:        opts.addr,
		MaxMessageSize: 4096,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	reqStorage := make([]byte, 4096)
	respStorage := make([]byte, 4096)
	for i := 0; i < opts.count; i++ {
		req, err := c.NewRequest(reqStorage, 1, 1)
		if err != nil {
			return err
		}
		req.WriteBytes([]byte(opts.payload))

		start := time.Now()
		resp, err := c.Call(req, respStorage)
		if err != nil {
			return err
		}
		echoed := resp.ReadBytes()
		fmt.Printf("reply %d: %q in %s\n", i+1, string(echoed), time.Since(start))
	}
	return nil
}
