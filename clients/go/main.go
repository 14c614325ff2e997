// staffchat CLI - command line client for staff chat
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/clients/go/staffchat"
	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/delivery"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := staffchat.NewClient(os.Getenv("STAFFCHAT_URL"), os.Getenv("STAFFCHAT_TOKEN"))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "me":
		resp, err := client.Me(ctx)
		exitOnError(err)
		printJSON(resp)

	case "rooms":
		resp, err := client.Rooms(ctx, "", 50)
		exitOnError(err)
		fmt.Printf("%d unread\n", resp.UnreadCount)
		for _, room := range resp.Rooms {
			marker := " "
			if room.Unread {
				marker = "*"
			}
			name := string(room.Type)
			if room.Name != nil {
				name = *room.Name
			}
			fmt.Printf("%s %s  %s  %s\n", marker, room.ID, room.UpdatedAt.Local().Format("2006-01-02 15:04"), name)
		}

	case "contacts":
		query := ""
		if len(os.Args) > 2 {
			query = strings.Join(os.Args[2:], " ")
		}
		resp, err := client.Contacts(ctx, query)
		exitOnError(err)
		fmt.Println("Recent:")
		for _, r := range resp.Recent {
			marker := " "
			if r.Unread {
				marker = "*"
			}
			fmt.Printf("  %s %s  %s (%s)\n", marker, r.RoomID, r.Title, r.Role)
		}
		fmt.Println("Start new:")
		for _, u := range resp.StartNew {
			fmt.Printf("    %s  %s (%s)\n", u.ID, u.DisplayName(), u.Role)
		}

	case "dm":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: staffchat dm <user_id>")
			os.Exit(1)
		}
		resp, err := client.StartDirect(ctx, os.Args[2])
		exitOnError(err)
		if resp.Created {
			fmt.Printf("Started: %s\n", resp.Room.ID)
		} else {
			fmt.Printf("Existing: %s\n", resp.Room.ID)
		}

	case "group":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: staffchat group <name> <user_id>...")
			os.Exit(1)
		}
		resp, err := client.CreateRoom(ctx, os.Args[2], os.Args[3:])
		exitOnError(err)
		fmt.Printf("Created: %s\n", resp.ID)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: staffchat send <room_id> <message>")
			os.Exit(1)
		}
		resp, err := client.PostMessage(ctx, os.Args[2], strings.Join(os.Args[3:], " "))
		exitOnError(err)
		fmt.Printf("Posted: %s\n", resp.ID)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: staffchat read <room_id>")
			os.Exit(1)
		}
		messages, err := client.ListMessages(ctx, os.Args[2], "")
		exitOnError(err)
		printMessages(messages)
		exitOnError(client.MarkRead(ctx, os.Args[2]))

	case "watch":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: staffchat watch <room_id>")
			os.Exit(1)
		}
		watch(ctx, client, os.Args[2])

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch follows a room until interrupted, over push when available and by
// polling otherwise.
func watch(ctx context.Context, client *staffchat.Client, roomID string) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)
	if os.Getenv("STAFFCHAT_DEBUG") != "" {
		logger = logger.Level(zerolog.DebugLevel)
	}

	viewer := delivery.NewViewer(client, client, delivery.DefaultViewerConfig(), delivery.ViewerHandlers{
		OnMessages: func(roomID string, messages []chat.MessageView) {
			printMessages(messages)
			if err := client.MarkRead(ctx, roomID); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("mark read failed")
			}
		},
		OnMessageDeleted: func(_, messageID string) {
			fmt.Printf("(message %s deleted)\n", messageID)
		},
		OnStateChange: func(s delivery.State) {
			logger.Info().Str("state", s.String()).Msg("connection")
		},
	}, logger)

	viewer.Open(ctx, roomID)
	<-ctx.Done()
	viewer.Close()
}

func printMessages(messages []chat.MessageView) {
	for _, msg := range messages {
		ts := msg.CreatedAt.Local().Format("2006-01-02 15:04:05")
		from := msg.SenderName
		if from == "" && msg.SenderID != nil {
			from = *msg.SenderID
		}
		fmt.Printf("[%s] %s: %s\n", ts, from, msg.Content)
	}
}

func usage() {
	fmt.Println(`staffchat CLI - staff internal messaging

Usage: staffchat <command> [options]

Commands:
  rooms                      List your rooms (* = unread)
  contacts [query]           Recent conversations and staff to message
  dm <user_id>               Open the direct chat with a colleague
  group <name> <user_id>...  Create a group room
  send <room_id> <message>   Post a message
  read <room_id>             Print a room's messages and mark it read
  watch <room_id>            Follow a room live
  me                         Show your profile
  health                     Check server health

Environment:
  STAFFCHAT_URL     Server URL (default: http://localhost:8080)
  STAFFCHAT_TOKEN   Bearer token issued by the host application`)
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
