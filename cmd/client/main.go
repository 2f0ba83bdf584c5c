package main

import (
	"context"
	"flag"
	"time"

	"lumen-core/internal/client"
	"lumen-core/internal/identity"
	"lumen-core/internal/utils"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:7740", "Server address")
		protocol  = flag.String("protocol", "tcp", "Transport protocol (tcp/websocket/quic/kcp)")
		serviceID = flag.Uint("service", 1, "Service id to send to")
		message   = flag.String("message", "hello", "Payload to send")
		nodeClass = flag.Bool("node", false, "Connect as a node (primary access mode)")
		timeout   = flag.Duration("timeout", 10*time.Second, "Reply wait timeout")
	)
	flag.Parse()

	keys, err := identity.GenerateKeyPair()
	if err != nil {
		utils.Fatalf("Failed to generate identity: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &client.Config{
		Protocol:  *protocol,
		Addr:      *addr,
		NodeClass: *nodeClass,
		ServiceID: uint32(*serviceID),
	}

	c, err := client.Dial(cfg, keys, ctx)
	if err != nil {
		utils.Fatalf("Handshake failed: %v", err)
	}
	defer c.CloseWithError()

	utils.Infof("session established: %s", c.SessionID)

	if err := c.Send(uint32(*serviceID), []byte(*message)); err != nil {
		utils.Fatalf("Send failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		reply, err := c.Next()
		if err != nil {
			utils.Errorf("Receive failed: %v", err)
			return
		}
		utils.Infof("reply from service %d: %s", reply.ServiceID, string(reply.Payload))
	}()

	select {
	case <-done:
	case <-time.After(*timeout):
		utils.Error("Timed out waiting for reply")
	}
}
