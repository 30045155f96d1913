// Demo client: connects to a frame-echo server, sends a text payload once per
// tick, and prints whatever comes back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgames/netpipe/pkg/client"
	"github.com/kestrelgames/netpipe/pkg/connector"
	"github.com/kestrelgames/netpipe/pkg/frame"
)

const echoMessageId uint16 = 1001

func main() {
	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	//
	// Flags
	host := flag.String("host", "localhost", "Server host name or IP")
	port := flag.Int("port", 30320, "Server port")
	useTls := flag.Bool("tls", false, "Wrap the connection in TLS")
	insecure := flag.Bool("insecure", false, "Skip certificate validation (with -tls)")
	useCompression := flag.Bool("compress", false, "Enable DEFLATE compression")
	message := flag.String("message", "Hello", "Payload to echo")
	count := flag.Int("count", 10, "Number of messages to send")
	flag.Parse()

	params := client.SessionParams{
		Logger:   logger,
		Registry: frame.CreateRegistry(),
	}
	if *useTls {
		tlsParams := &connector.TLSStageParams{}
		if *insecure {
			tlsParams.Policy = connector.CertPolicyAcceptAll
		}
		params.TLS = tlsParams
	}
	if *useCompression {
		params.Compression = &connector.CompressStageParams{}
	}

	session, err := client.CreateSession(params)
	if err != nil {
		logger.Error("Failed to create session", zap.Error(err))
		return
	}

	received := 0
	session.Register(echoMessageId, func(msg *frame.InboundMessage) {
		received++
		fmt.Printf("echo #%d (seq=%d, routing=%d): %s\n",
			received, msg.ClientSequenceId, msg.RoutingId, string(msg.RawPayload))
	})

	disconnected := false
	session.OnDisconnect(func(evt client.DisconnectEvent) {
		logger.Info("Disconnected", zap.String("reason", evt.Reason))
		disconnected = true
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !session.Connect(ctx, *host, *port) {
		session.Tick() // surface the ConnectResult callback
		logger.Error("Connection failed, giving up")
		return
	}
	defer session.Disconnect()

	sent := 0
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for received < *count && !disconnected {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session.Tick()
			if sent < *count {
				if _, err := session.SendBytes(echoMessageId, 1, []byte(*message)); err != nil {
					logger.Error("Send failed", zap.Error(err))
					return
				}
				sent++
			}
		}
	}

	logger.Info("Done", zap.Int("sent", sent), zap.Int("received", received))
}
