/*
netproxy relays reliudp datagrams between a listening port and a
single upstream server address, for exercising the transport and
listener against a real peer without running the full protocol stack
in-process. Modeled on the teacher's cmd/proxy, replacing its bare
os.Args parsing with cobra and its log.Print calls with logrus.

Usage:

	netproxy --listen :40000 --dial game.example.com:40000
*/
package main

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anon55555/reliudp/nettransport"
)

// pollInterval paces the busy loops below between non-blocking Recv
// calls; this binary has no cooperative TimeBase of its own to drive,
// unlike the core it's relaying for.
const pollInterval = 2 * time.Millisecond

var (
	listenAddr string
	dialAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "netproxy",
	Short: "Relay reliudp datagrams between a listener and an upstream server",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":40000", "local address to accept peers on")
	rootCmd.Flags().StringVar(&dialAddr, "dial", "", "upstream server address to relay to")
	_ = rootCmd.MarkFlagRequired("dial")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(_ *cobra.Command, _ []string) error {
	log := logrus.WithField("component", "netproxy")

	upstream, err := net.ResolveUDPAddr("udp", dialAddr)
	if err != nil {
		return err
	}

	lc, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return err
	}
	defer lc.Close()

	clientSock := nettransport.NewSocket(lc)
	defer clientSock.Close()
	listener := nettransport.Listen(clientSock)

	log.WithFields(logrus.Fields{"listen": listenAddr, "dial": dialAddr}).Info("relay started")

	for {
		listener.Pump()
		peer, ok := listener.Accept()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}
		log.WithField("peer", peer.Addr).Info("peer connected")

		conn, err := net.ListenUDP("udp", nil)
		if err != nil {
			log.WithError(err).Error("failed opening upstream socket")
			continue
		}
		upstreamSock := nettransport.NewSocket(conn)

		go relay(log.WithField("peer", peer.Addr), peer, upstreamSock, upstream)
		go relayBack(log.WithField("peer", peer.Addr), upstreamSock, peer)
	}
}

// relay forwards everything the proxied client sends up to the
// upstream server.
func relay(log *logrus.Entry, peer *nettransport.PeerConn, upstream *nettransport.Socket, upstreamAddr net.Addr) {
	for {
		data, ok := peer.Recv()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}
		if err := upstream.Send(upstreamAddr, data); err != nil {
			log.WithError(err).Warn("forward to upstream failed")
		}
	}
}

// relayBack forwards everything the upstream server sends back down to
// the proxied client.
func relayBack(log *logrus.Entry, upstream *nettransport.Socket, peer *nettransport.PeerConn) {
	for {
		_, data, ok := upstream.Recv()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}
		if err := peer.Send(data); err != nil {
			log.WithError(err).Warn("forward to client failed")
		}
	}
}
