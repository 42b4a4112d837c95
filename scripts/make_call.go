package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harunnryd/sapa/pkg/configutil"
	"github.com/harunnryd/sapa/pkg/sapa"
	"github.com/harunnryd/sapa/pkg/transports/twilio"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "examples/voice-assistant/config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	hangup := flag.String("hangup", "", "call sid to end instead of dialing")
	flag.Parse()
	if *hangup == "" && (*from == "" || *to == "") {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...] | -hangup=CA...")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg, err := sapa.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if cfg.Transports.Provider != "twilio" {
		fmt.Println("transports.provider is not twilio:", cfg.Transports.Provider)
		os.Exit(1)
	}
	var settings twilio.Config
	if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	if *voiceURL == "" && settings.PublicURL == "" {
		fmt.Println("public_url is empty")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	dialer := twilio.NewDialer(settings)
	if *hangup != "" {
		if err := dialer.Hangup(ctx, *hangup); err != nil {
			fmt.Println("hangup error:", err)
			os.Exit(1)
		}
		fmt.Println("hung up:", *hangup)
		return
	}
	callSID, err := dialer.Dial(ctx, *to, *from, *voiceURL)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
