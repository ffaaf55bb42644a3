package tcp_test

import (
	"errors"
	"fmt"
	"net"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taskio/taskio/internal/neterr"
	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/tcp"
)

func TestTCP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "tcp suite")
}

// freePort asks the kernel for a free TCP port, then immediately closes the probe
// listener so the port is free again for the real test to use.
func freePort() int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

var _ = Describe("Watcher.Connect", func() {
	It("reports ECONNREFUSED when nothing is listening", func() {
		r := reactor.New("connect-refused", nil)
		defer r.Stop()

		port := freePort()
		_, err := tcp.Connect(r, fmt.Sprintf("127.0.0.1:%d", port))
		Expect(err).To(HaveOccurred())

		var nerr *neterr.Error
		Expect(errors.As(err, &nerr)).To(BeTrue())
		Expect(nerr.Name).To(Equal("ECONNREFUSED"))
	})
})

var _ = Describe("TCP echo", func() {
	It("delivers bytes written by the client to the accepted connection", func() {
		serverReactor := reactor.New("echo-server", nil)
		defer serverReactor.Stop()
		clientReactor := reactor.New("echo-client", nil)
		defer clientReactor.Stop()

		port := freePort()
		addr := fmt.Sprintf("127.0.0.1:%d", port)

		ln, err := tcp.Bind(serverReactor, addr)
		Expect(err).NotTo(HaveOccurred())
		acc, err := ln.Listen()
		Expect(err).NotTo(HaveOccurred())
		defer acc.Close()

		client, err := tcp.Connect(clientReactor, addr)
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		n, err := client.Write(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(len(payload)))

		server, err := acc.Accept()
		Expect(err).NotTo(HaveOccurred())
		defer server.Close()

		buf := make([]byte, len(payload))
		total := 0
		for total < len(payload) {
			n, err := server.Read(buf[total:])
			Expect(err).NotTo(HaveOccurred())
			total += n
		}
		Expect(buf).To(Equal(payload))
	})
})

var _ = Describe("Back-pressure", func() {
	It("a large write arrives as more than one read on the server side", func() {
		serverReactor := reactor.New("backpressure-server", nil)
		defer serverReactor.Stop()
		clientReactor := reactor.New("backpressure-client", nil)
		defer clientReactor.Stop()

		port := freePort()
		addr := fmt.Sprintf("127.0.0.1:%d", port)

		ln, err := tcp.Bind(serverReactor, addr)
		Expect(err).NotTo(HaveOccurred())
		acc, err := ln.Listen()
		Expect(err).NotTo(HaveOccurred())
		defer acc.Close()

		client, err := tcp.Connect(clientReactor, addr)
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		server, err := acc.Accept()
		Expect(err).NotTo(HaveOccurred())
		defer server.Close()

		const chunk = 2048
		const target = 5000
		done := make(chan struct{})
		go func() {
			defer close(done)
			sent := 0
			buf := make([]byte, chunk)
			for i := range buf {
				buf[i] = 1
			}
			for sent < target {
				n, werr := client.Write(buf)
				Expect(werr).NotTo(HaveOccurred())
				sent += n
			}
		}()

		reads := 0
		received := 0
		buf := make([]byte, chunk)
		for received < target {
			n, rerr := server.Read(buf)
			Expect(rerr).NotTo(HaveOccurred())
			received += n
			reads++
		}
		<-done
		Expect(reads).To(BeNumerically(">", 1))
	})
})

var _ = Describe("Sender-blocked read resumption", func() {
	It("a reader accumulates bytes across writes separated by a pause", func() {
		serverReactor := reactor.New("resume-server", nil)
		defer serverReactor.Stop()
		clientReactor := reactor.New("resume-client", nil)
		defer clientReactor.Stop()

		port := freePort()
		addr := fmt.Sprintf("127.0.0.1:%d", port)

		ln, err := tcp.Bind(serverReactor, addr)
		Expect(err).NotTo(HaveOccurred())
		acc, err := ln.Listen()
		Expect(err).NotTo(HaveOccurred())
		defer acc.Close()

		client, err := tcp.Connect(clientReactor, addr)
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		server, err := acc.Accept()
		Expect(err).NotTo(HaveOccurred())
		defer server.Close()

		pattern := make([]byte, 8)
		for i := range pattern {
			pattern[i] = byte(i)
		}
		resume := make(chan struct{})

		go func() {
			_, _ = client.Write(pattern)
			_, _ = client.Write(pattern)
			<-resume
			_, _ = client.Write(pattern)
			_, _ = client.Write(pattern)
		}()

		got := make([]byte, 32)
		total := 0
		reads := 0
		for total < 16 {
			n, rerr := server.Read(got[total:])
			Expect(rerr).NotTo(HaveOccurred())
			total += n
			reads++
		}
		close(resume)
		for total < 32 {
			n, rerr := server.Read(got[total:])
			Expect(rerr).NotTo(HaveOccurred())
			total += n
			reads++
		}

		Expect(reads).To(BeNumerically(">=", 2))
		for i, b := range got {
			Expect(b).To(Equal(byte(i % 8)))
		}
	})
})

var _ = Describe("Drop cleanup under failure", func() {
	It("allows rebinding the same address after the failed attempt's listener is closed", func() {
		r := reactor.New("rebind", nil)
		defer r.Stop()

		port := freePort()
		addr := fmt.Sprintf("127.0.0.1:%d", port)

		first, err := tcp.Bind(r, addr)
		Expect(err).NotTo(HaveOccurred())
		firstAcc, err := first.Listen()
		Expect(err).NotTo(HaveOccurred())

		_, err = tcp.Bind(r, addr)
		Expect(err).To(HaveOccurred())

		Expect(firstAcc.Close()).To(Succeed())

		second, err := tcp.Bind(r, addr)
		Expect(err).NotTo(HaveOccurred())
		secondAcc, err := second.Listen()
		Expect(err).NotTo(HaveOccurred())
		defer secondAcc.Close()
	})
})
