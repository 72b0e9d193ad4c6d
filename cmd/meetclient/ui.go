package main

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/peer"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

func printInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func printError(msg string) {
	pterm.DefaultLogger.Error(msg)
}

// runSpinner starts a spinner and returns a function that stops it.
func runSpinner(text string) func(ok bool) {
	s, err := pterm.DefaultSpinner.Start(text)
	if err != nil {
		return func(bool) {}
	}
	return func(ok bool) {
		if ok {
			s.Success()
		} else {
			s.Fail()
		}
	}
}

func printState(s peer.State) {
	switch s {
	case peer.Connected:
		pterm.Success.Println("Call connected")
	case peer.Closed:
		pterm.Warning.Println("Call ended")
	default:
		printInfo("Call state: %s", s)
	}
}

func printRoster(users []models.Identity) {
	data := pterm.TableData{{"User", "Name", "Role"}}
	for _, u := range users {
		data = append(data, []string{u.ID, u.Name, u.Role})
	}
	pterm.DefaultSection.Printf("Online (%d)", len(users))
	if len(users) == 0 {
		pterm.Println("nobody")
		return
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printMessage(event models.EventType, msg models.ChatMessage) {
	switch event {
	case models.EventMessageSent:
		pterm.FgGray.Printf("-> %s: %s\n", msg.ReceiverID, msg.Content)
	case models.EventMessageGroup:
		pterm.FgCyan.Printf("[%s] %s: %s\n", msg.GroupID, msg.SenderID, msg.Content)
	default:
		pterm.FgMagenta.Printf("%s: %s\n", msg.SenderID, msg.Content)
	}
}

func printTyping(ev models.TypingEvent, typing bool) {
	if typing {
		pterm.FgGray.Printf("%s is typing in %s\n", ev.UserID, ev.RoomID)
	}
}

func printRelayError(e models.ErrorPayload) {
	if e.RoomID != "" {
		printError(fmt.Sprintf("%s (%s): %s", e.Code, e.RoomID, e.Message))
		return
	}
	printError(fmt.Sprintf("%s: %s", e.Code, e.Message))
}
