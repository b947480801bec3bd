// Mesh VPN — CLI entry point.
//
// This daemon bridges a local TAP device with remote peers over UDP, falling
// back to the WebSocket control channel when UDP cannot be used. Peers are
// described interactively at startup.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/1ureka/1ureka.net.vpn/internal/app"
	"github.com/1ureka/1ureka.net.vpn/internal/config"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          Mesh VPN (TAP/UDP)          ║")
	fmt.Println("╚══════════════════════════════════════╝")
	fmt.Println()

	cfg := &config.Config{}

	fmt.Print("請輸入本節點名稱: ")
	scanner.Scan()
	cfg.Name = strings.TrimSpace(scanner.Text())
	if cfg.Name == "" {
		fmt.Println("名稱不可為空")
		os.Exit(1)
	}

	fmt.Print("請輸入 TAP 介面名稱 (預設 vpn0): ")
	scanner.Scan()
	cfg.InterfaceName = strings.TrimSpace(scanner.Text())
	if cfg.InterfaceName == "" {
		cfg.InterfaceName = "vpn0"
	}

	fmt.Print("請輸入 UDP 監聽位址 (例如 :655): ")
	scanner.Scan()
	cfg.ListenAddress = strings.TrimSpace(scanner.Text())
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":655"
	}

	fmt.Print("請輸入控制通道 port (0 = 隨機): ")
	scanner.Scan()
	if port, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil {
		cfg.ControlPort = port
	}

	fmt.Print("請輸入 PIN: ")
	scanner.Scan()
	pin := strings.TrimSpace(scanner.Text())

	fmt.Print("啟用 debug log? (y/N): ")
	scanner.Scan()
	if strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
		cfg.Debug = true
		util.EnableDebug()
	}

	peers := readPeers(scanner)

	if err := app.RunNode(ctx, cfg, peers, pin); err != nil {
		fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
		os.Exit(1)
	}
}

// readPeers collects peer descriptions until an empty name is entered.
func readPeers(scanner *bufio.Scanner) []app.PeerConfig {
	var peers []app.PeerConfig
	for {
		fmt.Printf("\n── Peer %d（名稱留空結束）──\n", len(peers)+1)
		fmt.Print("名稱: ")
		scanner.Scan()
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			return peers
		}

		pc := app.PeerConfig{Name: name}

		fmt.Print("UDP 位址 (host:port): ")
		scanner.Scan()
		pc.UDPAddress = strings.TrimSpace(scanner.Text())

		fmt.Print("控制通道 URL（留空表示等待對方連入）: ")
		scanner.Scan()
		pc.ControlURL = strings.TrimSpace(scanner.Text())

		fmt.Print("PSK: ")
		scanner.Scan()
		pc.PSK = strings.TrimSpace(scanner.Text())

		fmt.Print("壓縮等級 (0-11): ")
		scanner.Scan()
		if level, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil && level >= 0 && level <= 11 {
			pc.Compression = level
		}

		fmt.Print("啟用 PMTU 探測? (y/N): ")
		scanner.Scan()
		pc.PMTU = strings.EqualFold(strings.TrimSpace(scanner.Text()), "y")

		peers = append(peers, pc)
	}
}
