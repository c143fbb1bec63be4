// Command sbdctl is a small operator tool for exercising a modem from the
// shell: open the port, wait for the init sequence, send one message, and
// print whatever comes back, in the vein of the teacher's cmd/canopen
// example node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	sbd "github.com/scottp/node-iridium-sbd"
	"github.com/scottp/node-iridium-sbd/transport/serial"
)

func main() {
	log.SetLevel(log.InfoLevel)

	port := flag.String("p", "/dev/ttyUSB0", "serial port device")
	baud := flag.Int("b", 19200, "baud rate")
	configPath := flag.String("c", "", "INI config file (overrides -p/-b when set)")
	message := flag.String("m", "", "text message to send; empty runs a mailbox check only")
	debug := flag.Bool("d", false, "enable debug logging")
	timeout := flag.Duration("t", 60*time.Second, "overall command timeout")
	flag.Parse()

	cfg := sbd.DefaultConfig()
	if *configPath != "" {
		loaded, err := sbd.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sbdctl: loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg.Port = *port
		cfg.Baudrate = *baud
	}
	cfg.Debug = *debug
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	tr, err := serial.Open(cfg.Port, cfg.Baudrate, 200*time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbdctl: opening %s: %v\n", cfg.Port, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	modem, err := sbd.OpenWithContext(ctx, cfg, tr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbdctl: init failed: %v\n", err)
		os.Exit(1)
	}
	defer modem.Close()

	modem.On(sbd.EventRingAlert, func(any) {
		log.Info("sbdctl: ring alert received")
	})
	modem.On(sbd.EventNewMessage, func(payload any) {
		if p, ok := payload.(*sbd.NewMessagePayload); ok {
			log.Infof("sbdctl: received %d bytes, %d still pending", len(p.Payload), p.Pending)
		}
	})

	momsn, err := modem.SendMessage(ctx, *message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbdctl: send failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("momsn=%d pending=%d\n", momsn, modem.Pending())
}
