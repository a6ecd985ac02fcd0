package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"wesim/internal/model"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:8891", "daemon address")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{base: "http://" + *addrFlag, jsonOut: *jsonFlag}

	switch args[0] {
	case "status":
		c.get("/v1/status", printStatus)
	case "register":
		requireArgs(args, 3, "register <id> <password>")
		c.post("/v1/auth/register", map[string]string{"id": args[1], "password": args[2]}, printMe)
	case "login":
		requireArgs(args, 3, "login <id> <password>")
		c.post("/v1/auth/login", map[string]string{"id": args[1], "password": args[2]}, printMe)
	case "logout":
		c.post("/v1/auth/logout", nil, nil)
		fmt.Println("logged out")
	case "resume":
		c.post("/v1/auth/resume", nil, printMe)
	case "whoami":
		c.get("/v1/me", printMe)
	case "balance":
		c.get("/v1/balance", func(body []byte) {
			var out struct {
				Balance float64 `json:"balance"`
			}
			mustDecode(body, &out)
			fmt.Printf("%.2f\n", out.Balance)
		})
	case "chats":
		c.get("/v1/chats", printChats)
	case "messages":
		requireArgs(args, 2, "messages <chat>")
		c.get("/v1/chats/"+args[1]+"/messages", printMessages)
	case "send":
		requireArgs(args, 3, "send <chat> <text>")
		c.post("/v1/chats/"+args[1]+"/messages",
			map[string]string{"type": "text", "text": strings.Join(args[2:], " ")}, printMessage)
	case "transfer":
		requireArgs(args, 3, "transfer <chat> <amount>")
		c.post("/v1/chats/"+args[1]+"/messages",
			map[string]string{"type": "transfer", "amount": args[2]}, printMessage)
	case "redpacket":
		requireArgs(args, 2, "redpacket <chat> [amount]")
		body := map[string]string{"type": "red-packet"}
		if len(args) > 2 {
			body["amount"] = args[2]
		}
		c.post("/v1/chats/"+args[1]+"/messages", body, printMessage)
	case "recall":
		requireArgs(args, 3, "recall <chat> <message>")
		c.post("/v1/chats/"+args[1]+"/messages/"+args[2]+"/recall", nil, nil)
		fmt.Println("recalled")
	case "delete":
		requireArgs(args, 3, "delete <chat> <message>")
		c.delete("/v1/chats/" + args[1] + "/messages/" + args[2])
		fmt.Println("deleted")
	case "read":
		requireArgs(args, 2, "read <chat>")
		c.post("/v1/chats/"+args[1]+"/read", nil, nil)
		fmt.Println("marked read")
	case "open":
		requireArgs(args, 3, "open <chat> <message>")
		c.post("/v1/chats/"+args[1]+"/messages/"+args[2]+"/open-red-packet", nil, printCredited)
	case "accept":
		requireArgs(args, 3, "accept <chat> <message>")
		c.post("/v1/chats/"+args[1]+"/messages/"+args[2]+"/accept-transfer", nil, printCredited)
	case "contacts":
		c.get("/v1/contacts", printContacts)
	case "contact":
		cmdContact(c, args)
	case "chat":
		requireArgs(args, 2, "chat <contact>")
		c.post("/v1/contacts/"+args[1]+"/chat", nil, nil)
		fmt.Println("chat started")
	case "watch":
		cmdWatch(*addrFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdContact(c *client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: wesimctl contact <add|remove> <id> [name]")
		os.Exit(1)
	}
	switch args[1] {
	case "add":
		requireArgs(args, 3, "contact add <id> [name]")
		body := map[string]string{"id": args[2]}
		if len(args) > 3 {
			body["name"] = strings.Join(args[3:], " ")
		}
		c.post("/v1/contacts", body, nil)
		fmt.Println("contact added")
	case "remove":
		requireArgs(args, 3, "contact remove <id>")
		c.delete("/v1/contacts/" + args[2])
		fmt.Println("contact removed")
	default:
		fmt.Fprintln(os.Stderr, "usage: wesimctl contact <add|remove> <id> [name]")
		os.Exit(1)
	}
}

// cmdWatch streams daemon events to stdout until interrupted.
func cmdWatch(addr string) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/events", nil)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			fatalf("stream closed: %v", err)
		}
		fmt.Println(string(bytes.TrimSpace(frame)))
	}
}

type client struct {
	base    string
	jsonOut bool
}

func (c *client) get(path string, render func([]byte)) {
	c.do(http.MethodGet, path, nil, render)
}

func (c *client) post(path string, body any, render func([]byte)) {
	c.do(http.MethodPost, path, body, render)
}

func (c *client) delete(path string) {
	c.do(http.MethodDelete, path, nil, nil)
}

func (c *client) do(method, path string, body any, render func([]byte)) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		fatalf("%v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		fatalf("cannot reach daemon at %s: %v", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(out, &e) == nil && e.Error != "" {
			fatalf("%s", e.Error)
		}
		fatalf("request failed: %s", resp.Status)
	}
	if render == nil {
		return
	}
	if c.jsonOut {
		fmt.Println(string(bytes.TrimSpace(out)))
		return
	}
	render(out)
}

func printStatus(body []byte) {
	var out struct {
		Status string `json:"status"`
		User   string `json:"user"`
	}
	mustDecode(body, &out)
	fmt.Printf("Status: %s\n", out.Status)
	if out.User != "" {
		fmt.Printf("User:   %s\n", out.User)
	}
}

func printMe(body []byte) {
	var me struct {
		ID      string  `json:"id"`
		Balance float64 `json:"balance"`
	}
	mustDecode(body, &me)
	fmt.Printf("User:    %s\n", me.ID)
	fmt.Printf("Balance: %.2f\n", me.Balance)
}

func printChats(body []byte) {
	var chats []model.Chat
	mustDecode(body, &chats)
	for _, c := range chats {
		marker := " "
		if c.UnreadCount > 0 {
			marker = fmt.Sprintf("%d", c.UnreadCount)
		}
		fmt.Printf("%-2s %-20s %s\n", marker, c.ID, c.LastMessage)
	}
}

func printMessages(body []byte) {
	var msgs []model.Message
	mustDecode(body, &msgs)
	for _, m := range msgs {
		ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
		sender := m.SenderID
		if m.IsFromLocalUser {
			sender = "me"
		}
		text := m.Text
		if m.IsRecalled {
			text = "(recalled)"
		} else if m.Type != model.MessageText {
			text = fmt.Sprintf("[%s] %s", m.Type, m.Amount)
		}
		fmt.Printf("%s %-12s %s\n", ts, sender, text)
	}
}

func printMessage(body []byte) {
	var m model.Message
	mustDecode(body, &m)
	fmt.Println(m.ID)
}

func printContacts(body []byte) {
	var contacts []model.Contact
	mustDecode(body, &contacts)
	for _, c := range contacts {
		name := c.Name
		if c.Remark != "" {
			name = c.Remark
		}
		fmt.Printf("%-20s %s\n", c.ID, name)
	}
}

func printCredited(body []byte) {
	var out struct {
		Credited float64 `json:"credited"`
	}
	mustDecode(body, &out)
	fmt.Printf("credited %.2f\n", out.Credited)
}

func mustDecode(body []byte, dst any) {
	if err := json.Unmarshal(body, dst); err != nil {
		fatalf("decode response: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: wesimctl %s\n", usage)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wesimctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show daemon status")
	fmt.Fprintln(os.Stderr, "  register <id> <password>     Create an account and log in")
	fmt.Fprintln(os.Stderr, "  login <id> <password>        Log in")
	fmt.Fprintln(os.Stderr, "  logout                       Log out")
	fmt.Fprintln(os.Stderr, "  resume                       Restore the last session")
	fmt.Fprintln(os.Stderr, "  whoami                       Show the active user")
	fmt.Fprintln(os.Stderr, "  balance                      Show the wallet balance")
	fmt.Fprintln(os.Stderr, "  chats                        List conversations")
	fmt.Fprintln(os.Stderr, "  messages <chat>              List a chat's messages")
	fmt.Fprintln(os.Stderr, "  send <chat> <text>           Send a text message")
	fmt.Fprintln(os.Stderr, "  transfer <chat> <amount>     Send a transfer")
	fmt.Fprintln(os.Stderr, "  redpacket <chat> [amount]    Send a red packet")
	fmt.Fprintln(os.Stderr, "  recall <chat> <message>      Recall a message")
	fmt.Fprintln(os.Stderr, "  delete <chat> <message>      Delete a message")
	fmt.Fprintln(os.Stderr, "  read <chat>                  Mark a chat read")
	fmt.Fprintln(os.Stderr, "  open <chat> <message>        Open a red packet")
	fmt.Fprintln(os.Stderr, "  accept <chat> <message>      Accept a transfer")
	fmt.Fprintln(os.Stderr, "  contacts                     List contacts")
	fmt.Fprintln(os.Stderr, "  contact add <id> [name]      Add a contact")
	fmt.Fprintln(os.Stderr, "  contact remove <id>          Remove a contact")
	fmt.Fprintln(os.Stderr, "  chat <contact>               Start a chat with a contact")
	fmt.Fprintln(os.Stderr, "  watch                        Stream daemon events")
}
