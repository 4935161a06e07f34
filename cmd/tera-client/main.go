package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codepr/tera-go/internal/mqtt"
	"github.com/codepr/tera-go/internal/mqttclient"
)

var (
	brokerAddr = flag.String("broker", "127.0.0.1:16768", "broker address (host:port)")
	clientID   = flag.String("client", "demo-client", "client id")
	qos        = flag.Int("qos", 0, "default quality of service (0, 1, 2)")
)

func main() {
	flag.Parse()

	fmt.Println("tera demo client")
	fmt.Printf("connecting to %s as %q (qos %d)\n\n", *brokerAddr, *clientID, *qos)

	client, err := mqttclient.Dial(*brokerAddr)
	if err != nil {
		fmt.Printf("failed to connect: %v\n", err)
		os.Exit(1)
	}
	if err := client.Connect(*clientID, true); err != nil {
		fmt.Printf("failed to connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("connected")

	go func() {
		for msg := range client.Messages {
			fmt.Printf("\nmessage received:\n")
			fmt.Printf("  topic:    %s\n", msg.Topic)
			fmt.Printf("  qos:      %d\n", msg.QoS)
			fmt.Printf("  retained: %t\n", msg.Retain)
			fmt.Printf("  payload:  %s\n", string(msg.Payload))
			fmt.Print("\n> ")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\ndisconnecting...")
		client.Disconnect()
		os.Exit(0)
	}()

	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "help", "h":
			printHelp()

		case "subscribe", "sub":
			if len(parts) < 2 {
				fmt.Println("usage: subscribe <topic> [qos]")
				break
			}
			topic := parts[1]
			qosLevel := mqtt.QoS(*qos)
			if len(parts) >= 3 {
				var v int
				fmt.Sscanf(parts[2], "%d", &v)
				qosLevel = mqtt.QoS(v)
			}
			reason, err := client.Subscribe(topic, qosLevel)
			if err == nil && reason != mqtt.SubackUnspecifiedError {
				fmt.Printf("subscribed to %q (qos %d)\n", topic, qosLevel)
			} else {
				fmt.Printf("subscribe failed for %q: reason=0x%02x err=%v\n", topic, reason, err)
			}

		case "unsubscribe", "unsub":
			if len(parts) < 2 {
				fmt.Println("usage: unsubscribe <topic>")
				break
			}
			topic := parts[1]
			reason, err := client.Unsubscribe(topic)
			if err == nil {
				fmt.Printf("unsubscribed from %q (reason 0x%02x)\n", topic, reason)
			} else {
				fmt.Printf("unsubscribe failed for %q: %v\n", topic, err)
			}

		case "publish", "pub":
			if len(parts) < 3 {
				fmt.Println("usage: publish <topic> <message> [qos] [retain]")
				break
			}
			topic := parts[1]
			msgParts := parts[2:]
			retain := false
			if len(msgParts) > 0 && (strings.ToLower(msgParts[len(msgParts)-1]) == "retain" || strings.ToLower(msgParts[len(msgParts)-1]) == "r") {
				retain = true
				msgParts = msgParts[:len(msgParts)-1]
			}
			qosLevel := mqtt.QoS(*qos)
			if len(msgParts) > 0 {
				if v := msgParts[len(msgParts)-1]; v == "0" || v == "1" || v == "2" {
					var n int
					fmt.Sscanf(v, "%d", &n)
					qosLevel = mqtt.QoS(n)
					msgParts = msgParts[:len(msgParts)-1]
				}
			}
			message := strings.Join(msgParts, " ")
			if err := client.Publish(topic, []byte(message), qosLevel, retain); err == nil {
				fmt.Printf("published to %q (qos %d, retain %t)\n", topic, qosLevel, retain)
			} else {
				fmt.Printf("publish failed for %q: %v\n", topic, err)
			}

		case "status", "s":
			if client.IsConnected() {
				fmt.Println("status: connected")
			} else {
				fmt.Println("status: disconnected")
			}

		case "exit", "quit", "q":
			fmt.Println("disconnecting...")
			client.Disconnect()
			return

		default:
			fmt.Printf("unknown command: %s (type 'help' for available commands)\n", cmd)
		}

		fmt.Print("> ")
	}
}

func printHelp() {
	fmt.Println("\ncommands:")
	fmt.Println("  subscribe|sub <topic> [qos]")
	fmt.Println("  unsubscribe|unsub <topic>")
	fmt.Println("  publish|pub <topic> <message> [qos] [retain]")
	fmt.Println("  status|s")
	fmt.Println("  help|h")
	fmt.Println("  exit|quit|q")
	fmt.Println("\nexamples:")
	fmt.Println("  sub sensors/+/temperature 1")
	fmt.Println("  pub sensors/room1/temp 25.5 1")
	fmt.Println("  pub home/status online 0 retain")
}
