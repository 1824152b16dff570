package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"relay-core/internal/wire"
)

// terminal_sim emulates a trading terminal against a running relay. It
// registers, heartbeats, and (for a master) sends a demo open/close pair so
// paired slaves can be watched end to end.
//
// Usage:
//   go run ./scripts/terminal_sim -addr ws://localhost:8080/bridge -account 12345 -role master -demo-trade
//   go run ./scripts/terminal_sim -addr ws://localhost:8080/bridge -account 67890 -role slave

func main() {
	addr := flag.String("addr", "ws://localhost:8080/bridge", "relay bridge endpoint")
	account := flag.String("account", "12345", "account id")
	roleStr := flag.String("role", "master", "terminal role: master or slave")
	equity := flag.Float64("equity", 10000, "reported account equity")
	demoTrade := flag.Bool("demo-trade", false, "send a demo open/close pair (master only)")
	flag.Parse()

	role, ok := wire.ParseRole(*roleStr)
	if !ok {
		log.Fatalf("invalid role %q", *roleStr)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()
	log.Printf("connected to %s as %s/%s", *addr, *account, role)

	send := func(msg any) {
		frame, err := wire.Encode(msg)
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			log.Fatalf("write: %v", err)
		}
	}

	send(&wire.Register{
		MessageType: wire.KindRegister,
		AccountID:   *account,
		Role:        role,
		Broker:      "SimBroker",
		Platform:    "MT4",
		Timestamp:   time.Now().UnixMilli(),
	})

	// Print everything the relay pushes back.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				log.Printf("decode: %v", err)
				continue
			}
			log.Printf("<- %T %+v", msg, msg)
		}
	}()

	heartbeat := func() {
		send(&wire.Heartbeat{
			MessageType:    wire.KindHeartbeat,
			AccountID:      *account,
			Role:           role,
			Balance:        *equity,
			Equity:         *equity,
			IsTradeAllowed: true,
			Timestamp:      time.Now().UnixMilli(),
		})
	}
	heartbeat()

	if *demoTrade && role == wire.RoleMaster {
		go func() {
			time.Sleep(2 * time.Second)
			log.Println("-> demo open EURUSD 0.10")
			send(&wire.TradeSignal{
				Action:        wire.ActionOpen,
				Ticket:        time.Now().Unix(),
				Symbol:        "EURUSD",
				OrderType:     wire.OrderBuy,
				Lots:          0.10,
				OpenPrice:     1.0900,
				SourceAccount: *account,
				Timestamp:     time.Now().UnixMilli(),
			})
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	for {
		select {
		case <-ticker.C:
			heartbeat()
		case <-sigChan:
			send(&wire.Unregister{
				MessageType: wire.KindUnregister,
				AccountID:   *account,
				Role:        role,
				Timestamp:   time.Now().UnixMilli(),
			})
			log.Println("unregistered, exiting")
			return
		}
	}
}
