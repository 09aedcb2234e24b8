package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/config"
	"github.com/sahyam2023/dashboard-sub001/internal/core"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
)

// chatcli is a terminal client for the messaging core, mostly useful against
// chatstub. Commands:
//
//	users                list users you can chat with
//	list                 list conversations
//	open <user-id>       resolve the conversation with a user
//	send <conv> <text>   send a message
//	history <conv>       load and print the first history page
//	status <user-id>     presence for a user
//	clear <conv>[,..]    batch-clear conversations
//	attach <conv> <path> upload a file and send it
func main() {
	cfgPath := flag.String("config", "", "optional config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var zl *zap.Logger
	if cfg.Development {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	token := os.Getenv("CHAT_TOKEN")
	if token == "" {
		log.Fatal("CHAT_TOKEN is required (run chatstub to mint one)")
	}

	client, err := core.New(cfg, token, zl.Sugar())
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	client.Start()
	defer client.Close()

	fmt.Printf("connected as user %d; type 'help'\n", client.Session.UserID())
	repl(client)
}

func repl(client *core.Client) {
	ctx := context.Background()
	sc := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); sc.Scan(); fmt.Print("> ") {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "quit", "exit":
			return
		case "users":
			page, err := client.REST.ListUsers(ctx, 1, 50, "")
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, u := range page.Users {
				fmt.Printf("  %4d  %s\n", u.ID, u.Username)
			}
		case "list":
			if err := client.Directory.Refresh(ctx); err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, conv := range client.Directory.List() {
				last := "(empty)"
				if conv.LastMessage != nil {
					last = conv.LastMessage.Content
				}
				fmt.Printf("  %4d  with=%d unread=%d  %s\n",
					conv.ID, conv.Pair.Other(client.Session.UserID()), conv.UnreadCount, last)
			}
		case "open":
			id, ok := argID(args, 0)
			if !ok {
				continue
			}
			conv, err := client.Directory.Resolve(ctx, id)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("  conversation %d\n", conv.ID)
		case "send":
			id, ok := argID(args, 0)
			if !ok || len(args) < 2 {
				fmt.Println("usage: send <conv> <text>")
				continue
			}
			p := client.Syncer.Send(id, strings.Join(args[1:], " "), nil)
			fmt.Printf("  queued %s\n", p.ClientID)
		case "history":
			id, ok := argID(args, 0)
			if !ok {
				continue
			}
			if _, err := client.Syncer.LoadPage(ctx, id, 0, 0); err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, e := range client.Syncer.Entries(id) {
				printEntry(e)
			}
		case "status":
			id, ok := argID(args, 0)
			if !ok {
				continue
			}
			rec := client.Presence.Get(ctx, id)
			fmt.Printf("  user %d: %s\n", id, rec.Status)
		case "clear":
			if len(args) < 1 {
				fmt.Println("usage: clear <conv>[,<conv>...]")
				continue
			}
			var ids []int64
			for _, part := range strings.Split(args[0], ",") {
				if id, err := strconv.ParseInt(part, 10, 64); err == nil {
					ids = append(ids, id)
				}
			}
			outcomes, err := client.Batch.Clear(ctx, ids)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, o := range outcomes {
				fmt.Printf("  %4d  %s messages=%d files=%d %s\n",
					o.ConversationID, o.Status, o.MessagesDeleted, o.FilesDeleted, o.Error)
			}
		case "attach":
			id, ok := argID(args, 0)
			if !ok || len(args) < 2 {
				fmt.Println("usage: attach <conv> <path>")
				continue
			}
			ref, err := client.Attachments.UploadFile(ctx, id, args[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			client.Syncer.Send(id, "", &ref)
			fmt.Printf("  sent %s\n", ref.FileName)
		default:
			fmt.Println("commands: users list open send history status clear attach quit")
		}
	}
}

func argID(args []string, i int) (int64, bool) {
	if len(args) <= i {
		fmt.Println("missing id")
		return 0, false
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		fmt.Println("bad id:", args[i])
		return 0, false
	}
	return id, true
}

func printEntry(e models.Entry) {
	switch {
	case e.Committed != nil:
		m := e.Committed
		fmt.Printf("  [%d] %d -> %d: %s\n", m.ID, m.SenderID, m.RecipientID, m.Content)
	case e.Pending != nil:
		fmt.Printf("  [%s] (%s) %s\n", e.Pending.ClientID[:8], e.Pending.State, e.Pending.Content)
	}
}
