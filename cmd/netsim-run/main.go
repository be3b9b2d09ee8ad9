/*
netsim-run drives two in-process reliable.Channel peers over a pair of
netsim.Link impairment injectors and reports how long delivery of a
batch of messages takes under the configured latency, jitter, loss,
and duplication. It exists to exercise package netsim and the
reliable/netproto stack end to end without needing a real socket or a
second process, the way the teacher's cmd/proxy exercises rudp against
a live peer.

Usage:

	netsim-run --messages 200 --loss 0.05 --latency 0.05 --jitter 0.02
*/
package main

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anon55555/reliudp/netproto"
	"github.com/anon55555/reliudp/netsim"
	"github.com/anon55555/reliudp/reliable"
)

var (
	numMessages int
	latency     float64
	jitter      float64
	loss        float64
	duplication float64
	tickRate    float64
	maxTicks    int
	seed        int64
)

var rootCmd = &cobra.Command{
	Use:   "netsim-run",
	Short: "Exercise the reliable message channel over a simulated lossy link",
	RunE:  run,
}

func init() {
	rootCmd.Flags().IntVar(&numMessages, "messages", 200, "number of messages to send")
	rootCmd.Flags().Float64Var(&latency, "latency", 0.05, "simulated one-way latency in seconds")
	rootCmd.Flags().Float64Var(&jitter, "jitter", 0.02, "simulated latency jitter in seconds")
	rootCmd.Flags().Float64Var(&loss, "loss", 0.02, "simulated packet loss probability")
	rootCmd.Flags().Float64Var(&duplication, "duplication", 0, "simulated packet duplication probability")
	rootCmd.Flags().Float64Var(&tickRate, "tick-rate", 0.02, "seconds simulated per tick")
	rootCmd.Flags().IntVar(&maxTicks, "max-ticks", 5000, "ticks to run before giving up")
	rootCmd.Flags().Int64Var(&seed, "seed", 1, "random seed for the simulated links")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

const chatMessageType = 1

type chatMessage struct {
	id  uint16
	Seq int32
}

func (m *chatMessage) Type() uint16    { return chatMessageType }
func (m *chatMessage) ID() uint16      { return m.id }
func (m *chatMessage) SetID(id uint16) { m.id = id }
func (m *chatMessage) Serialize(s *netproto.Stream) error {
	return s.SerializeInteger(&m.Seq, 0, 1<<30)
}

func newFactory() *reliable.MessageFactory {
	f := reliable.NewMessageFactory(256)
	f.Register(chatMessageType, func() reliable.Message { return &chatMessage{} })
	f.Lock()
	return f
}

func run(_ *cobra.Command, _ []string) error {
	runID := uuid.New()
	log := logrus.WithFields(logrus.Fields{"component": "netsim-run", "run": runID.String()})

	cfg := netsim.Config{Latency: latency, Jitter: jitter, Loss: loss, Duplication: duplication}
	aToB := netsim.NewLink(cfg, seed)
	bToA := netsim.NewLink(cfg, seed+1)

	sendChan := reliable.NewChannel(reliable.Config{Factory: newFactory()})
	recvChan := reliable.NewChannel(reliable.Config{Factory: newFactory()})
	sendConn := netproto.NewConnection(netproto.Config{}, []netproto.Channel{sendChan})
	recvConn := netproto.NewConnection(netproto.Config{}, []netproto.Channel{recvChan})

	for i := 0; i < numMessages; i++ {
		if err := sendChan.SendMessage(&chatMessage{Seq: int32(i)}); err != nil {
			return err
		}
	}
	log.WithField("count", numMessages).Info("enqueued messages")

	received := 0
	now := 0.0
	buf := make([]byte, 1500)

	for tick := 0; tick < maxTicks && received < numMessages; tick++ {
		now += tickRate
		tb := netproto.TimeBase{Time: now, DeltaTime: tickRate}
		sendConn.Update(tb)
		recvConn.Update(tb)

		if n, err := sendConn.WritePacket(buf); err != nil {
			return err
		} else if n > 0 {
			aToB.Send(buf[:n])
		}

		for _, pkt := range aToB.Advance(now) {
			if err := recvConn.ReadPacket(pkt, len(pkt)); err != nil {
				log.WithError(err).Debug("dropped malformed packet")
			}
		}

		buf2 := make([]byte, 1500)
		if n, err := recvConn.WritePacket(buf2); err != nil {
			return err
		} else if n > 0 {
			bToA.Send(buf2[:n])
		}

		for _, pkt := range bToA.Advance(now) {
			if err := sendConn.ReadPacket(pkt, len(pkt)); err != nil {
				log.WithError(err).Debug("dropped malformed packet")
			}
		}

		for {
			if _, ok := recvChan.ReceiveMessage(); ok {
				received++
			} else {
				break
			}
		}
	}

	log.WithFields(logrus.Fields{
		"received":  received,
		"expected":  numMessages,
		"sim_time":  now,
		"early":     recvChan.GetCounter(reliable.MessagesEarly),
		"discarded": recvConn.GetCounter(netproto.PacketsDiscarded),
	}).Info("run finished")

	if received < numMessages {
		log.Warn("did not deliver every message before max-ticks was reached")
	}
	return nil
}
