// Command echoserver is a minimal demonstration of the tcp package: it binds a
// listener on one reactor, accepts connections, and echoes back whatever it reads,
// one read/write pair at a time.
package main

import (
	"flag"
	"log"

	tasklog "github.com/taskio/taskio/internal/log"
	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/tcp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:0", "address to listen on")
	flag.Parse()

	logger := tasklog.New("info")
	defer logger.Sync()

	r := reactor.New("echoserver", logger)
	defer r.Stop()

	ln, err := tcp.Bind(r, *addr)
	if err != nil {
		log.Fatalf("bind: %v", err)
	}

	acc, err := ln.Listen()
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer acc.Close()

	name, _ := acc.SocketName()
	log.Printf("echoserver listening on %s", name)

	for {
		conn, err := acc.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			return
		}
		go serve(conn)
	}
}

func serve(conn *tcp.Watcher) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return
		}
	}
}
