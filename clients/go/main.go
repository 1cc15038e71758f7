// Parley CLI - Command line client for Parley
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/eldtechnologies/parley/clients/go/parley"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PARLEY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := parley.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: parley register <username> <password> [display name]")
			os.Exit(1)
		}
		displayName := ""
		if len(os.Args) > 4 {
			displayName = os.Args[4]
		}
		resp, err := client.Register(os.Args[2], os.Args[3], displayName)
		exitOnError(err)
		fmt.Printf("Registered as %s (%s)\n", resp.User.Username, resp.User.ID)

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: parley login <username> <password>")
			os.Exit(1)
		}
		resp, err := client.Login(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Logged in as %s\n", resp.User.Username)

	case "history":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: parley history <room> [before_id]")
			os.Exit(1)
		}
		var before int64
		if len(os.Args) > 3 {
			n, err := strconv.ParseInt(os.Args[3], 10, 64)
			exitOnError(err)
			before = n
		}
		resp, err := client.History(os.Args[2], 50, before)
		exitOnError(err)
		for _, msg := range resp.Messages {
			printMessage(&msg)
		}

	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: parley chat <room>")
			os.Exit(1)
		}
		chat(client, os.Args[2])

	case "whoami":
		resp, err := client.Me()
		exitOnError(err)
		printJSON(resp)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// chat joins a room over the live connection, printing incoming events and
// sending lines typed on stdin. A line of the form "/retract <id>" retracts.
func chat(client *parley.Client, room string) {
	sock, err := client.Connect()
	exitOnError(err)
	defer sock.Close()

	exitOnError(sock.Join(room))

	go func() {
		for ev := range sock.Events() {
			switch ev.Type {
			case "history":
				for _, msg := range ev.Messages {
					printMessage(&msg)
				}
			case "message":
				if ev.Message != nil {
					printMessage(ev.Message)
				}
			case "retracted":
				fmt.Printf("* message %d retracted\n", ev.MessageID)
			case "presence":
				state := "offline"
				if ev.Online != nil && *ev.Online {
					state = "online"
				}
				fmt.Printf("* %s is %s\n", ev.Username, state)
			case "typing":
				fmt.Printf("* %s is typing...\n", ev.Username)
			case "error":
				fmt.Fprintf(os.Stderr, "! %s: %s\n", ev.Code, ev.Error)
			}
		}
		fmt.Println("connection closed")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		var id int64
		if n, err := fmt.Sscanf(line, "/retract %d", &id); err == nil && n == 1 {
			exitOnError(sock.Retract(id))
			continue
		}
		exitOnError(sock.Send(room, line))
	}
}

func printMessage(msg *parley.Message) {
	ts := time.UnixMilli(msg.CreatedAt).Format("2006-01-02 15:04:05")
	fmt.Printf("[%s] #%d %s: %s\n", ts, msg.ID, msg.SenderName, msg.Content)
}

func usage() {
	fmt.Println(`Parley CLI - real-time chat client

Usage: parley <command> [options]

Commands:
  register <user> <pass> [name]  Create an account
  login <user> <pass>            Log in
  chat <room>                    Join a room interactively
  history <room> [before_id]     Read room history
  whoami                         Show the logged-in account
  health                         Check server health

Environment:
  PARLEY_URL      Server URL (default: http://localhost:8080)
  PARLEY_CONFIG   Config directory (default: ~/.parley)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
