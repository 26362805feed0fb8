package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mahaj/community-chat/pkg/client"
	"github.com/mahaj/community-chat/pkg/model"
)

func render(room *client.Room) {
	fmt.Print("\033[2J\033[H")
	for _, e := range room.Messages() {
		switch {
		case e.Failed:
			fmt.Printf("%s: %s  [failed, /retry to resend]\n", e.Message.SenderID, e.Message.Text)
		case e.Pending:
			fmt.Printf("%s: %s  [sending...]\n", e.Message.SenderID, e.Message.Text)
		default:
			fmt.Printf("%s: %s\n", e.Message.SenderID, e.Message.Text)
		}
	}
	if typers := room.Typers(); len(typers) > 0 {
		fmt.Printf("-- %s typing...\n", strings.Join(typers, ", "))
	}
	fmt.Print("> ")
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "server address")
	userID := flag.String("user", "user1", "user id")
	roomName := flag.String("room", "", "group name to open (created with you as the only member if missing)")
	flag.Parse()

	log.Printf("logging in as %s...", *userID)
	token, err := client.Login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("login failed: ", err)
	}

	api := client.New(*apiAddr, token)
	ctx := context.Background()

	groups, err := api.Groups(ctx)
	if err != nil {
		log.Fatal("fetch groups: ", err)
	}

	var group *model.Group
	for i := range groups {
		if groups[i].Name == *roomName || *roomName == "" {
			group = &groups[i]
			break
		}
	}
	if group == nil {
		if *roomName == "" {
			log.Fatal("no groups; pass -room to create one")
		}
		g, err := api.CreateGroup(ctx, *roomName, "", nil)
		if err != nil {
			log.Fatal("create group: ", err)
		}
		group = &g
	}
	log.Printf("opening room %s (%s)", group.Name, group.ID)

	wsURL := "ws" + strings.TrimPrefix(*apiAddr, "http") + "/ws"
	live, err := client.DialLive(wsURL, token)
	if err != nil {
		log.Fatal("dial live channel: ", err)
	}
	defer live.Close()

	if err := live.Subscribe([]string{group.ID}); err != nil {
		log.Fatal("subscribe: ", err)
	}

	room := client.NewRoom(group.ID)

	// live events may start before history resolves; Room buffers them
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range live.Events() {
			room.Apply(ev)
			if room.Deleted() {
				fmt.Println("\nroom was deleted")
				return
			}
			render(room)
		}
	}()

	history, err := api.History(ctx, group.ID, 0, 50)
	if err != nil {
		log.Fatal("fetch history: ", err)
	}
	room.LoadHistory(history)
	render(room)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	quit := make(chan struct{})

	var lastFailed *client.Entry
	deliver := func(text, token string) {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		msg, err := api.Send(sendCtx, group.ID, text, token)
		if err != nil {
			room.FailSend(token)
		} else {
			room.ConfirmSend(token, msg)
			lastFailed = nil
		}
		render(room)
	}
	send := func(text string) {
		entry := room.SendLocal(*userID, text)
		lastFailed = &entry
		render(room)
		deliver(text, entry.Token)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			switch {
			case text == "":
				render(room)
			case text == "/quit":
				close(quit)
				return
			case text == "/typing":
				live.Typing(group.ID, true)
				render(room)
			case text == "/retry" && lastFailed != nil:
				// reuse the idempotency token so the retry cannot duplicate
				deliver(lastFailed.Message.Text, lastFailed.Token)
			default:
				live.Typing(group.ID, false)
				send(text)
			}
		}
	}()

	select {
	case <-done:
	case <-quit:
	case <-interrupt:
		log.Println("interrupt")
	}
}
