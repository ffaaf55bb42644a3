//go:build unix

package udp_test

import (
	"net"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/udp"
)

func TestUDP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "udp suite")
}

var _ = Describe("UDP round-trip", func() {
	It("returns the sent bytes and the sender's address from RecvFrom", func() {
		r := reactor.New("udp-roundtrip", nil)
		defer r.Stop()

		server, err := udp.Bind(r, "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer server.Close()

		client, err := udp.Bind(r, "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		serverAddr, err := server.SocketName()
		Expect(err).NotTo(HaveOccurred())
		clientAddr, err := client.SocketName()
		Expect(err).NotTo(HaveOccurred())

		payload := []byte("ping")
		Expect(client.SendTo(payload, serverAddr.(*net.UDPAddr))).To(Succeed())

		buf := make([]byte, 16)
		n, peer, err := server.RecvFrom(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf[:n]).To(Equal(payload))
		Expect(peer.Port).To(Equal(clientAddr.(*net.UDPAddr).Port))
	})
})

var _ = Describe("IPv6 bind", func() {
	It("binds, sets the unicast hop limit, and round-trips over ::1", func() {
		r := reactor.New("udp-ipv6", nil)
		defer r.Stop()

		server, err := udp.Bind(r, "[::1]:0")
		Expect(err).NotTo(HaveOccurred())
		defer server.Close()

		client, err := udp.Bind(r, "[::1]:0")
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		// Exercises the ipv6PacketConn adapter's SetHopLimit, which would fail if
		// Bind had mistakenly built an ipv4.PacketConn over this AF_INET6 socket.
		Expect(client.TimeToLive(4)).To(Succeed())

		serverAddr, err := server.SocketName()
		Expect(err).NotTo(HaveOccurred())

		payload := []byte("ipv6-ping")
		Expect(client.SendTo(payload, serverAddr.(*net.UDPAddr))).To(Succeed())

		buf := make([]byte, 16)
		n, _, err := server.RecvFrom(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf[:n]).To(Equal(payload))
	})
})

var _ = Describe("Two datagrams from the same source", func() {
	It("delivers them to the receiver's two RecvFrom calls in order", func() {
		r := reactor.New("udp-two-datagrams", nil)
		defer r.Stop()

		server, err := udp.Bind(r, "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer server.Close()

		client, err := udp.Bind(r, "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		serverAddr, err := server.SocketName()
		Expect(err).NotTo(HaveOccurred())

		Expect(client.SendTo([]byte{1}, serverAddr.(*net.UDPAddr))).To(Succeed())
		Expect(client.SendTo([]byte{1, 2}, serverAddr.(*net.UDPAddr))).To(Succeed())

		buf := make([]byte, 16)
		n1, peer1, err := server.RecvFrom(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(n1).To(Equal(1))

		n2, peer2, err := server.RecvFrom(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(n2).To(Equal(2))

		Expect(peer1.String()).To(Equal(peer2.String()))
	})
})
