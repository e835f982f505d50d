package main

import (
	"fmt"
	"os"

	"onemeter-mqtt-bridge/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file>")
		os.Exit(1)
	}

	configPath := os.Args[1]
	fmt.Printf("📄 Loading config from: %s\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Config loaded successfully!\n")
	fmt.Printf("   Version: %s\n", cfg.Version)
	fmt.Printf("   MQTT Broker: %s:%d\n", cfg.MQTT.Broker, cfg.MQTT.Port)
	fmt.Printf("   Bridge status topic: %s\n", cfg.HomeAssistant.StatusTopic)
	fmt.Printf("   Forecast tick: every %d minute(s)\n", cfg.Bridge.ForecastTickMinutes)
	if cfg.HTTP.Enabled {
		fmt.Printf("   HTTP endpoint: port %d\n", cfg.HTTP.Port)
	}

	fmt.Printf("   Devices: %d\n", len(cfg.Devices))
	for deviceID, device := range cfg.Devices {
		fmt.Printf("     - %s:\n", deviceID)
		fmt.Printf("         Name: %s\n", device.DisplayName(deviceID))
		fmt.Printf("         MAC: %s\n", device.MAC)
		fmt.Printf("         Subscribe topic: %s\n", device.SubscribeTopic)
		fmt.Printf("         Impulses per kWh: %d\n", device.ImpulsesPerKWh)
		fmt.Printf("         Max power: %.1f kW\n", device.MaxPowerKW)
		fmt.Printf("         Power window: %d sample(s)\n", device.PowerAverageWindow)
		fmt.Printf("         Power timeout: %d s\n", device.PowerTimeoutSeconds)
		if device.InitialKWh > 0 {
			fmt.Printf("         Initial energy: %.3f kWh\n", device.InitialKWh)
		}
		if device.MonthlyUsageKWh > 0 {
			fmt.Printf("         Month-to-date: %.3f kWh\n", device.MonthlyUsageKWh)
		}
		fmt.Printf("         Dedupe by timestamp: %v\n", device.DedupeByTimestamp)
		fmt.Printf("         Enabled: %v\n", device.IsEnabled())
	}

	fmt.Println("\n✅ Configuration is valid!")
}
